// SPDX-License-Identifier: BSD-3-Clause

package fanconfig

import "errors"

var (
	// ErrMissing indicates a required configuration key was absent.
	ErrMissing = errors.New("fanconfig: missing required value")
	// ErrInvalidValue indicates a configuration value failed validation.
	ErrInvalidValue = errors.New("fanconfig: invalid value")
)
