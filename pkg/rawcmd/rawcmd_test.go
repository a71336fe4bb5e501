// SPDX-License-Identifier: BSD-3-Clause

package rawcmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndBytes(t *testing.T) {
	cmd := New(0x30, 0x45, 0x01, 0x02)
	assert.Equal(t, []byte{0x30, 0x45, 0x01, 0x02}, cmd.Bytes())
}

func TestString(t *testing.T) {
	cmd := New(0x30, 0x70, 0x66)
	assert.Equal(t, "raw 0x30 0x70 0x66", cmd.String())
}

func TestParseHexByte(t *testing.T) {
	cases := map[string]byte{"0x2a": 0x2a, "2a": 0x2a, "0X2A": 0x2a}
	for in, want := range cases {
		got, ok := ParseHexByte(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseHexByte("not-hex")
	assert.False(t, ok)
	_, ok = ParseHexByte("")
	assert.False(t, ok)
}

func TestFromTokensRoundTrip(t *testing.T) {
	cmd, ok := FromTokens([]string{"0x30", "0x45", "0x01", "0x02"})
	assert.True(t, ok)
	assert.Equal(t, RawCommand{Netfn: 0x30, Cmd: 0x45, Data: []byte{0x01, 0x02}}, cmd)

	_, ok = FromTokens([]string{"0x30"})
	assert.False(t, ok, "at least netfn and cmd are required")

	_, ok = FromTokens([]string{"0x30", "zz"})
	assert.False(t, ok, "malformed cmd byte must reject")
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"raw", "0x30", "0x45"}, Tokens("raw 0x30 0x45"))
}
