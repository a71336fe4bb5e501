// SPDX-License-Identifier: BSD-3-Clause

package boardprofile

import (
	"context"
	"strings"
)

// Detector supplies the three raw probes board detection consults, in
// priority order: DMI product string, BMC "mc info" output, and firmware
// revision major. A production implementation shells to
// dmidecode/ipmitool; tests supply canned strings.
type Detector interface {
	DMIBaseboard(ctx context.Context) (string, error)
	McInfo(ctx context.Context) (string, error)
	FirmwareRevisionMajor(ctx context.Context) (int, error)
}

var mcInfoMarkers = []struct {
	gen     Generation
	markers []string
}{
	{X13, []string{"x13", "h13", "b13"}},
	{H12, []string{"h12", "b12"}},
	{X11, []string{"x11", "h11", "b11"}},
	{X10, []string{"x10", "h10", "b10"}},
	{X9, []string{"x9", "h9", "b9"}},
}

// Detect resolves a board Generation, trying the DMI product string first
// (the only reliable way to distinguish H12), BMC "mc info" second, and
// firmware-revision-major third. A probe that fails is skipped. It returns
// Unknown when no probe yields a recognizable marker, whether the probes
// failed or returned unrecognized output; callers must treat Unknown as a
// hard fault.
func Detect(ctx context.Context, d Detector) Generation {
	if dmi, err := d.DMIBaseboard(ctx); err == nil {
		if strings.Contains(strings.ToLower(dmi), "h12") {
			return H12
		}
	}

	if info, err := d.McInfo(ctx); err == nil {
		lower := strings.ToLower(info)
		for _, m := range mcInfoMarkers {
			for _, marker := range m.markers {
				if strings.Contains(lower, marker) {
					return m.gen
				}
			}
		}
	}

	if major, err := d.FirmwareRevisionMajor(ctx); err == nil {
		switch major {
		case 3:
			return X13
		case 2:
			return X11
		case 1:
			return X10
		}
	}

	return Unknown
}
