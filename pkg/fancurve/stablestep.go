// SPDX-License-Identifier: BSD-3-Clause

package fancurve

import "github.com/superfan-go/fanctl/pkg/boardprofile"

// StableStep maps a temperature delta to one of the board's discrete speed
// steps via fixed tiers: delta≥15→full, ≥10→high, ≥5→medium, else low. The
// step's byte encoding and expected RPM ranges come from the active
// board profile's step table, so a board_config override is honored
// automatically.
type StableStep struct {
	profile  *boardprofile.Profile
	minSpeed float64
	maxSpeed float64
}

// NewStableStep builds a StableStep curve bound to profile's step table.
func NewStableStep(profile *boardprofile.Profile, minSpeed, maxSpeed float64) *StableStep {
	return &StableStep{profile: profile, minSpeed: minSpeed, maxSpeed: maxSpeed}
}

func (s *StableStep) tierName(delta float64) string {
	switch {
	case delta >= 15:
		return "full"
	case delta >= 10:
		return "high"
	case delta >= 5:
		return "medium"
	default:
		return "low"
	}
}

// SpeedFor implements Curve.
func (s *StableStep) SpeedFor(delta float64) Result {
	name := s.tierName(delta)
	for _, step := range s.profile.Steps {
		if step.Name == name {
			b := step.Byte
			return Result{
				Percent:      clamp(float64(step.ThresholdPercent), s.minSpeed, s.maxSpeed),
				StepByte:     &b,
				ExpectedRPMs: step.Groups,
			}
		}
	}
	// No matching named step in the table (e.g. a custom board_config that
	// dropped a tier name): fall back to an all-zero off point.
	zero := byte(0x00)
	return Result{Percent: clamp(0, s.minSpeed, s.maxSpeed), StepByte: &zero}
}
