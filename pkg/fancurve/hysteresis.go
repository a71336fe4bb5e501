// SPDX-License-Identifier: BSD-3-Clause

package fancurve

import "math"

// Hysteresis wraps another Curve by composition: on the first call it
// delegates and remembers; subsequently it re-delegates only if the delta
// moved by at least width (an absolute, direction-agnostic gate).
type Hysteresis struct {
	inner      Curve
	width      float64
	lastDelta  float64
	lastResult Result
	primed     bool
}

// NewHysteresis wraps inner with an absolute re-evaluation gate of width.
func NewHysteresis(inner Curve, width float64) *Hysteresis {
	return &Hysteresis{inner: inner, width: width}
}

// SpeedFor implements Curve.
func (h *Hysteresis) SpeedFor(delta float64) Result {
	if !h.primed {
		h.lastResult = h.inner.SpeedFor(delta)
		h.lastDelta = delta
		h.primed = true
		return h.lastResult
	}
	if math.Abs(delta-h.lastDelta) >= h.width {
		h.lastResult = h.inner.SpeedFor(delta)
		h.lastDelta = delta
	}
	return h.lastResult
}
