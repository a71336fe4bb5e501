// SPDX-License-Identifier: BSD-3-Clause

// Package validator rejects blacklisted, malformed, or unsafe raw BMC
// commands before they ever reach a transport. It performs no I/O and
// operates on the typed RawCommand form rather than raw strings.
package validator

import (
	"fmt"
	"strings"

	"github.com/superfan-go/fanctl/pkg/rawcmd"
)

const (
	modeNetfn  = 0x30
	modeCmd    = 0x45
	modeSetTag = 0x01

	speedNetfn = 0x30
)

var speedCmds = map[byte]bool{0x70: true, 0x91: true}

// blacklist is the set of (netfn, cmd) pairs known to perturb fan/sensor
// behavior on affected BMCs.
var blacklist = map[[2]byte]bool{
	{0x06, 0x01}: true,
	{0x06, 0x02}: true,
}

// permittedModes is the four named fan-control modes: standard, full,
// optimal, heavy io (the exact names are Commander's concern; the
// validator only cares that the byte is one of these four).
var permittedModes = map[byte]bool{0x00: true, 0x01: true, 0x02: true, 0x04: true}

// Config parameterizes the speed-floor policy, which is board-specific and
// supplied by the caller (Commander, from the active BoardProfile) rather
// than hardcoded here.
type Config struct {
	// MinSpeedByte is the minimum trailing speed byte permitted for a
	// speed-set command, unless PermitOff is set and the byte is 0x00.
	MinSpeedByte byte
	// PermitOff allows a trailing speed byte of 0x00 ("off") to bypass the
	// floor check.
	PermitOff bool
}

// Validator checks raw BMC commands against the blacklist, hex well-
// formedness, permitted mode set, and configured speed floor.
type Validator struct {
	cfg Config
}

// New builds a Validator with the given floor policy.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateCommand tokenizes a full command string (as would be sent to the
// BMC transport) and validates it if it is a "raw" command; all other
// commands pass through unchanged.
func (v *Validator) ValidateCommand(command string) error {
	tokens := rawcmd.Tokens(command)
	if len(tokens) == 0 || !strings.EqualFold(tokens[0], "raw") {
		return nil
	}
	cmd, ok := rawcmd.FromTokens(tokens[1:])
	if !ok {
		return fmt.Errorf("%w: %q", ErrMalformed, command)
	}
	return v.Validate(cmd)
}

// Validate checks a typed RawCommand against the blacklist, mode, and
// speed-floor rules.
func (v *Validator) Validate(cmd rawcmd.RawCommand) error {
	if blacklist[[2]byte{cmd.Netfn, cmd.Cmd}] {
		return fmt.Errorf("%w: netfn=0x%02x cmd=0x%02x", ErrBlacklisted, cmd.Netfn, cmd.Cmd)
	}

	if cmd.Netfn == modeNetfn && cmd.Cmd == modeCmd && len(cmd.Data) >= 2 && cmd.Data[0] == modeSetTag {
		mode := cmd.Data[1]
		if !permittedModes[mode] {
			return fmt.Errorf("%w: mode=0x%02x", ErrUnsafeMode, mode)
		}
	}

	if cmd.Netfn == speedNetfn && speedCmds[cmd.Cmd] && len(cmd.Data) > 0 {
		speed := cmd.Data[len(cmd.Data)-1]
		if speed == 0x00 {
			if !v.cfg.PermitOff {
				return fmt.Errorf("%w: speed=0x00 not permitted", ErrUnsafeSpeed)
			}
		} else if speed < v.cfg.MinSpeedByte {
			return fmt.Errorf("%w: speed=0x%02x below floor 0x%02x", ErrUnsafeSpeed, speed, v.cfg.MinSpeedByte)
		}
	}

	return nil
}
