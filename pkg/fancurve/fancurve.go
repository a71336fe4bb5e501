// SPDX-License-Identifier: BSD-3-Clause

// Package fancurve implements the temperature-delta to fan-speed curves as
// a tagged variant with a single SpeedFor operation: Hysteresis wraps
// another Curve by composition rather than any class hierarchy. No variant
// performs I/O.
package fancurve

import (
	"fmt"
	"sort"

	"github.com/superfan-go/fanctl/pkg/boardprofile"
)

// Point is one (Δt, speed%) pair in a Linear or Step curve's point list.
type Point struct {
	Delta float64
	Speed float64
}

// Result is a curve evaluation outcome: a raw percent for Linear/Step, or a
// percent with an associated step byte and expected RPM envelope for
// StableStep.
type Result struct {
	Percent      float64
	StepByte     *byte
	ExpectedRPMs map[boardprofile.FanGroup]boardprofile.RPMRange
}

// Curve maps a temperature delta to a target speed.
type Curve interface {
	SpeedFor(delta float64) Result
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func validatePoints(points []Point, minSpeed, maxSpeed float64) error {
	if minSpeed > maxSpeed || minSpeed < 0 || maxSpeed > 100 {
		return fmt.Errorf("%w: min=%v max=%v", ErrInvalidRange, minSpeed, maxSpeed)
	}
	if len(points) == 0 {
		return fmt.Errorf("%w: empty point list", ErrInvalidPoints)
	}
	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Delta < sorted[j].Delta })
	for i, p := range sorted {
		if p.Delta < 0 {
			return fmt.Errorf("%w: negative delta %v", ErrInvalidPoints, p.Delta)
		}
		if p.Speed < 0 || p.Speed > 100 {
			return fmt.Errorf("%w: speed %v out of [0,100]", ErrInvalidPoints, p.Speed)
		}
		if i > 0 && sorted[i-1].Delta == p.Delta {
			return fmt.Errorf("%w: duplicate delta %v", ErrInvalidPoints, p.Delta)
		}
	}
	return nil
}

// bisectRight returns the index of the first point whose Delta exceeds
// delta (i.e., Python's bisect.bisect_right over the Delta column).
func bisectRight(points []Point, delta float64) int {
	lo, hi := 0, len(points)
	for lo < hi {
		mid := (lo + hi) / 2
		if points[mid].Delta <= delta {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
