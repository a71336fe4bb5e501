// SPDX-License-Identifier: BSD-3-Clause

package control

import "errors"

var (
	// ErrAlreadyRunning indicates Start was called while already running.
	ErrAlreadyRunning = errors.New("control: already running")
	// ErrNotRunning indicates a status/command call was made before Start.
	ErrNotRunning = errors.New("control: not running")
)
