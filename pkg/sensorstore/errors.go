// SPDX-License-Identifier: BSD-3-Clause

package sensorstore

import "errors"

// ErrInsufficientReadings is returned by callers that choose to surface the
// "not enough valid readings yet" outcome as an error rather than a bool;
// Store itself returns (Stats, bool) since too few readings is a normal
// outcome, not a failure.
var ErrInsufficientReadings = errors.New("insufficient valid readings")
