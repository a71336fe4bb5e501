// SPDX-License-Identifier: BSD-3-Clause

// Package boardprofile holds the per-generation command templates, H12
// speed-step table, and fan-group RPM ranges consulted when composing and
// verifying fan commands.
package boardprofile

import (
	"fmt"
	"strings"

	"github.com/superfan-go/fanctl/pkg/rawcmd"
)

// Generation is the tagged variant over board generations.
type Generation int

const (
	Unknown Generation = iota
	X9
	X10
	X11
	H12
	X13
)

// String renders the generation name.
func (g Generation) String() string {
	switch g {
	case X9:
		return "X9"
	case X10:
		return "X10"
	case X11:
		return "X11"
	case H12:
		return "H12"
	case X13:
		return "X13"
	default:
		return "Unknown"
	}
}

// Zone identifies a cooling zone for command composition purposes.
type Zone string

const (
	Chassis Zone = "chassis"
	CPU     Zone = "cpu"
)

// FanGroup identifies a physical fan cohort for RPM verification.
type FanGroup string

const (
	HighRPM FanGroup = "high_rpm"
	LowRPM  FanGroup = "low_rpm"
	CPUGroup FanGroup = "cpu"
)

// ClassifyFanName maps a fan sensor name to its canonical group: FANA* is
// the cpu group, FAN1/FAN5 are high_rpm, any other FAN* is low_rpm.
func ClassifyFanName(name string) (FanGroup, bool) {
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "FAN") {
		return "", false
	}
	if strings.HasPrefix(upper, "FANA") {
		return CPUGroup, true
	}
	if upper == "FAN1" || upper == "FAN5" {
		return HighRPM, true
	}
	return LowRPM, true
}

// RPMRange is the expected min/max/stable RPM for one fan group at one
// speed step. Stable is 0 when the table has no stable value for this
// step.
type RPMRange struct {
	Min    int
	Max    int
	Stable int
}

// SpeedStep is a discrete operating point on boards that do not accept
// continuous duty cycles (H12).
type SpeedStep struct {
	Name             string
	ThresholdPercent int
	Byte             byte
	Groups           map[FanGroup]RPMRange
}

// h12Steps is the default H12 speed-step table, ascending by threshold.
func h12Steps() []SpeedStep {
	return []SpeedStep{
		{Name: "off", ThresholdPercent: 0, Byte: 0x00, Groups: map[FanGroup]RPMRange{
			HighRPM: {Min: 0, Max: 1820}, LowRPM: {Min: 0, Max: 1400}, CPUGroup: {Min: 0, Max: 3640},
		}},
		{Name: "very_low", ThresholdPercent: 12, Byte: 0x10, Groups: map[FanGroup]RPMRange{
			HighRPM: {Min: 0, Max: 1820}, LowRPM: {Min: 0, Max: 1400}, CPUGroup: {Min: 0, Max: 3640},
		}},
		{Name: "low", ThresholdPercent: 25, Byte: 0x20, Groups: map[FanGroup]RPMRange{
			HighRPM: {Min: 0, Max: 1820}, LowRPM: {Min: 0, Max: 1400}, CPUGroup: {Min: 0, Max: 3640},
		}},
		{Name: "medium", ThresholdPercent: 50, Byte: 0x40, Groups: map[FanGroup]RPMRange{
			HighRPM: {Min: 0, Max: 1820}, LowRPM: {Min: 0, Max: 1400}, CPUGroup: {Min: 0, Max: 3640},
		}},
		{Name: "high", ThresholdPercent: 75, Byte: 0x60, Groups: map[FanGroup]RPMRange{
			HighRPM: {Min: 0, Max: 1820}, LowRPM: {Min: 0, Max: 1400}, CPUGroup: {Min: 0, Max: 3640},
		}},
		{Name: "full", ThresholdPercent: 100, Byte: 0xff, Groups: map[FanGroup]RPMRange{
			HighRPM: {Min: 0, Max: 1820, Stable: 1680}, LowRPM: {Min: 0, Max: 1400, Stable: 1400}, CPUGroup: {Min: 0, Max: 3640, Stable: 3640},
		}},
	}
}

// Profile is the immutable, per-generation command/table set. It is set
// exactly once per process lifetime, at Commander.Open.
type Profile struct {
	Generation Generation
	Steps      []SpeedStep // non-empty only for H12
}

// New builds the static profile for gen. H12 carries the default
// speed-step table; callers with an external board_config override may
// replace Steps after construction.
func New(gen Generation) *Profile {
	p := &Profile{Generation: gen}
	if gen == H12 {
		p.Steps = h12Steps()
	}
	return p
}

// FloorPercent returns the minimum permitted non-off speed percentage for
// this generation: X* boards floor at 5%, H12 floors at 20% unless
// permitOff admits 0.
func (p *Profile) FloorPercent(permitOff bool) int {
	if permitOff {
		return 0
	}
	if p.Generation == H12 {
		return 20
	}
	return 5
}

// ContinuousByte computes the duty byte for non-H12 generations: round(P*255/100)
// clamped to [0x04, 0xFF]. Byte 0x00 is forbidden on these boards to avoid
// an auto-fallback misinterpretation.
func ContinuousByte(percent int) byte {
	raw := (percent*255 + 50) / 100
	if raw < 0x04 {
		raw = 0x04
	}
	if raw > 0xFF {
		raw = 0xFF
	}
	return byte(raw)
}

// StepForPercent snaps a requested percent to the step with the greatest
// threshold at or below it, saturating to "full" above 100 and to "off"
// below the first threshold.
func (p *Profile) StepForPercent(percent int) (SpeedStep, bool) {
	if len(p.Steps) == 0 {
		return SpeedStep{}, false
	}
	if percent > 100 {
		return p.Steps[len(p.Steps)-1], true
	}
	chosen := p.Steps[0]
	for _, s := range p.Steps {
		if s.ThresholdPercent <= percent {
			chosen = s
		} else {
			break
		}
	}
	return chosen, true
}

// StepForObservedRPM infers which speed step the fans are actually running
// at from per-group average RPM: first a step whose ranges bracket every
// observed group, then the step whose stable RPMs are numerically closest,
// and finally "full" when neither yields an answer. Returns false when the
// profile has no step table or nothing was observed.
func (p *Profile) StepForObservedRPM(observed map[FanGroup]float64) (SpeedStep, bool) {
	if len(p.Steps) == 0 || len(observed) == 0 {
		return SpeedStep{}, false
	}

	var candidates []SpeedStep
	for _, s := range p.Steps {
		bracket := true
		for g, rpm := range observed {
			rng, ok := s.Groups[g]
			if !ok || rpm < float64(rng.Min) || rpm > float64(rng.Max) {
				bracket = false
				break
			}
		}
		if bracket {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}

	pool := candidates
	if len(pool) == 0 {
		pool = p.Steps
	}
	best := SpeedStep{}
	bestDist := -1.0
	for _, s := range pool {
		dist := 0.0
		counted := 0
		for g, rpm := range observed {
			rng, ok := s.Groups[g]
			if !ok || rng.Stable == 0 {
				continue
			}
			d := rpm - float64(rng.Stable)
			if d < 0 {
				d = -d
			}
			dist += d
			counted++
		}
		if counted == 0 {
			continue
		}
		if bestDist < 0 || dist < bestDist {
			best = s
			bestDist = dist
		}
	}
	if bestDist >= 0 {
		return best, true
	}

	return p.Steps[len(p.Steps)-1], true
}

// ModeQueryCommand builds the "get fan mode" raw command.
func ModeQueryCommand() rawcmd.RawCommand {
	return rawcmd.New(0x30, 0x45, 0x00)
}

// ModeSetCommand builds the "set fan mode" raw command for the given mode
// byte.
func ModeSetCommand(mode byte) rawcmd.RawCommand {
	return rawcmd.New(0x30, 0x45, 0x01, mode)
}

// SetSpeedCommand composes the set-fan-speed raw command for this
// generation, zone, and pre-computed duty byte.
func (p *Profile) SetSpeedCommand(zone Zone, speedByte byte) (rawcmd.RawCommand, error) {
	switch p.Generation {
	case X9:
		group := byte(0x10)
		if zone == CPU {
			group = 0x11
		}
		return rawcmd.New(0x30, 0x91, 0x5A, 0x03, group, speedByte), nil
	case X10, X11, H12, X13:
		zoneID := byte(0x00)
		if zone == CPU {
			zoneID = 0x01
		}
		return rawcmd.New(0x30, 0x70, 0x66, 0x01, zoneID, speedByte), nil
	default:
		return rawcmd.RawCommand{}, fmt.Errorf("%w: cannot compose command", ErrUnknownBoard)
	}
}
