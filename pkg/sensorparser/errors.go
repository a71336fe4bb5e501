// SPDX-License-Identifier: BSD-3-Clause

package sensorparser

import "errors"

var (
	// ErrSdrLine indicates a line could not be tokenized as an SDR reading.
	// This is non-fatal: ParseSDR drops such lines without logging them and
	// does not return this error.
	ErrSdrLine = errors.New("sdr line parse error")
	// ErrSmartLog indicates an NVMe SMART log contained no temperature line.
	ErrSmartLog = errors.New("smart log parse error")
)
