// SPDX-License-Identifier: BSD-3-Clause

package safety

import "errors"

// ErrCheckFailed wraps a hard error encountered while evaluating safety
// (e.g. a transport failure during the sensor re-read), distinct from the
// monitor determining the system is unsafe for a known Reason.
var ErrCheckFailed = errors.New("safety: check failed")
