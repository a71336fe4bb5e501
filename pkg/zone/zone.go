// SPDX-License-Identifier: BSD-3-Clause

// Package zone implements named cooling zones and their sensor binding: it
// resolves a zone's sensor glob patterns against the current combined
// sensor namespace and computes the temperature delta above target.
package zone

import (
	"time"

	"github.com/superfan-go/fanctl/pkg/fancurve"
	"github.com/superfan-go/fanctl/pkg/sensorstore"
)

// Zone is a named cooling domain with its own sensors, thresholds, and curve.
type Zone struct {
	Name        string
	Enabled     bool
	Target      float64
	WarningMax  float64
	CriticalMax float64
	Sensors     []string
	Curve       fancurve.Curve
}

// Delta enumerates, for every glob in zone.Sensors, the matching sensor
// names and takes the maximum latest valid temperature across every
// matched sensor; it returns max(0, max_temp - target), or false if no
// sensor matched. A single reading qualifies: the min-readings gate only
// applies to statistical consumers, not to control decisions.
func Delta(reader *sensorstore.CombinedSensorReader, z Zone, now time.Time) (float64, bool) {
	maxTemp, matched := MaxTemperature(reader, z, now)
	if !matched {
		return 0, false
	}

	delta := maxTemp - z.Target
	if delta < 0 {
		delta = 0
	}
	return delta, true
}

// MaxTemperature resolves the same glob matching as Delta but returns the
// raw maximum temperature, not the delta above target. The safety
// monitor's per-zone critical-temperature check uses this.
func MaxTemperature(reader *sensorstore.CombinedSensorReader, z Zone, now time.Time) (float64, bool) {
	matched := false
	maxTemp := 0.0

	for _, glob := range z.Sensors {
		names, err := reader.MatchNames(glob)
		if err != nil {
			continue
		}
		for _, name := range names {
			value, ok := reader.Current(name, now)
			if !ok {
				continue
			}
			if !matched || value > maxTemp {
				maxTemp = value
			}
			matched = true
		}
	}

	return maxTemp, matched
}
