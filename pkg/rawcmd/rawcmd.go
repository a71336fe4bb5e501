// SPDX-License-Identifier: BSD-3-Clause

// Package rawcmd implements the typed representation of a raw IPMI command,
// replacing the string-typed hex command construction named in the design
// notes. A RawCommand carries its netfn/cmd/data as bytes; only the
// transport edge renders it to the whitespace-tokenized "raw 0x.. 0x.." wire
// form that ipmitool expects.
package rawcmd

import (
	"fmt"
	"strconv"
	"strings"
)

// RawCommand is the typed form of an IPMI raw command: netfn, cmd, and a
// variable-length data payload.
type RawCommand struct {
	Netfn byte
	Cmd   byte
	Data  []byte
}

// New constructs a RawCommand from its netfn, cmd, and trailing data bytes.
func New(netfn, cmd byte, data ...byte) RawCommand {
	return RawCommand{Netfn: netfn, Cmd: cmd, Data: append([]byte(nil), data...)}
}

// Bytes returns the full byte sequence: netfn, cmd, then data, in wire order.
func (c RawCommand) Bytes() []byte {
	out := make([]byte, 0, 2+len(c.Data))
	out = append(out, c.Netfn, c.Cmd)
	out = append(out, c.Data...)
	return out
}

// String renders the command as the "raw 0x.. 0x.. ..." form ipmitool
// expects on its command line.
func (c RawCommand) String() string {
	toks := make([]string, 0, 2+len(c.Data))
	toks = append(toks, "raw")
	for _, b := range c.Bytes() {
		toks = append(toks, fmt.Sprintf("0x%02x", b))
	}
	return strings.Join(toks, " ")
}

// Tokens splits a raw command string (as would be passed to ipmitool) into
// its whitespace-delimited tokens, preserving the leading "raw" token if
// present.
func Tokens(command string) []string {
	return strings.Fields(command)
}

// ParseHexByte parses a single hex literal token, with or without a "0x"
// prefix, into a byte. It rejects tokens that are not well-formed hex,
// distinct from a simple strconv failure so callers can report a
// Malformed validation error rather than a generic parse error.
func ParseHexByte(token string) (byte, bool) {
	t := strings.TrimPrefix(strings.TrimPrefix(token, "0x"), "0X")
	if t == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(t, 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// FromTokens parses the "raw" command tokens (excluding the leading "raw"
// literal) into a RawCommand. It requires at least netfn and cmd.
func FromTokens(tokens []string) (RawCommand, bool) {
	if len(tokens) < 2 {
		return RawCommand{}, false
	}
	netfn, ok := ParseHexByte(tokens[0])
	if !ok {
		return RawCommand{}, false
	}
	cmd, ok := ParseHexByte(tokens[1])
	if !ok {
		return RawCommand{}, false
	}
	data := make([]byte, 0, len(tokens)-2)
	for _, tok := range tokens[2:] {
		b, ok := ParseHexByte(tok)
		if !ok {
			return RawCommand{}, false
		}
		data = append(data, b)
	}
	return RawCommand{Netfn: netfn, Cmd: cmd, Data: data}, true
}
