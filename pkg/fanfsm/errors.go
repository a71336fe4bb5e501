// SPDX-License-Identifier: BSD-3-Clause

package fanfsm

import "errors"

var (
	// ErrInvalidConfig indicates the FSM configuration failed validation.
	ErrInvalidConfig = errors.New("fanfsm: invalid config")
	// ErrTransitionDenied indicates Fire was called with a trigger not
	// permitted from the current state.
	ErrTransitionDenied = errors.New("fanfsm: transition denied")
	// ErrFireTimeout indicates a Fire call did not complete within the
	// configured state timeout.
	ErrFireTimeout = errors.New("fanfsm: fire timed out")
)
