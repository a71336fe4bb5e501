// SPDX-License-Identifier: BSD-3-Clause

package nvmetransport

import "errors"

var (
	// ErrNoDevices indicates that no NVMe namespace block devices were found.
	ErrNoDevices = errors.New("no nvme devices found")
	// ErrDeviceOpen indicates the device node could not be opened.
	ErrDeviceOpen = errors.New("nvme device open failed")
	// ErrSmartLog indicates the SMART log could not be retrieved.
	ErrSmartLog = errors.New("nvme smart log failed")
)
