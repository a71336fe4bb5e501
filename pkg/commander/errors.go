// SPDX-License-Identifier: BSD-3-Clause

package commander

import "errors"

var (
	// ErrConnection surfaces a TransportError::Connection immediately,
	// without retry.
	ErrConnection = errors.New("commander: connection lost")
	// ErrCommand surfaces a TransportError::Command without retry, and a
	// DeviceBusy error that persists through the final retry attempt.
	ErrCommand = errors.New("commander: command failed")
	// ErrModeVerifyFailed indicates a set-mode readback disagreed with the
	// requested mode.
	ErrModeVerifyFailed = errors.New("commander: mode verify failed")
	// ErrInvalidResponse indicates a response byte did not match any known
	// FanMode.
	ErrInvalidResponse = errors.New("commander: invalid response")
	// ErrFanUnsafe indicates post-verification found a fan RPM below its
	// group's minimum.
	ErrFanUnsafe = errors.New("commander: fan unsafe")
	// ErrNotOpen indicates a call was made before Open succeeded.
	ErrNotOpen = errors.New("commander: not open")
)
