// SPDX-License-Identifier: BSD-3-Clause

package validator

import "errors"

var (
	// ErrBlacklisted indicates the (netfn, cmd) pair is known to perturb
	// fan/sensor behavior on affected BMCs and must never be dispatched.
	ErrBlacklisted = errors.New("blacklisted command")
	// ErrMalformed indicates a token is not a well-formed hex literal.
	ErrMalformed = errors.New("malformed command")
	// ErrUnsafeMode indicates a mode-set command's mode byte is outside the
	// permitted four-state set.
	ErrUnsafeMode = errors.New("unsafe fan mode")
	// ErrUnsafeSpeed indicates a speed-set command's trailing byte is below
	// the configured minimum.
	ErrUnsafeSpeed = errors.New("unsafe fan speed")
)
