// SPDX-License-Identifier: BSD-3-Clause

package fancurve

import "errors"

var (
	// ErrInvalidPoints indicates a Linear/Step curve's point list violates
	// the strictly-increasing, no-duplicate-Δt, in-range invariant.
	ErrInvalidPoints = errors.New("fancurve: invalid points")
	// ErrInvalidRange indicates min_speed > max_speed or either is out of [0,100].
	ErrInvalidRange = errors.New("fancurve: invalid speed range")
)
