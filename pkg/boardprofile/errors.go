// SPDX-License-Identifier: BSD-3-Clause

package boardprofile

import "errors"

var (
	// ErrUnknownBoard indicates board detection could not resolve a known
	// generation. Per the data model invariant, Unknown is a terminal state
	// that must prevent any fan command.
	ErrUnknownBoard = errors.New("unknown board generation")
	// ErrDetectionFailed indicates all detection probes failed outright
	// (as distinct from succeeding but yielding no recognizable marker).
	ErrDetectionFailed = errors.New("board detection failed")
)
