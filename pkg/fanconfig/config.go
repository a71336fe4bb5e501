// SPDX-License-Identifier: BSD-3-Clause

// Package fanconfig defines the daemon's configuration contract: the YAML
// document an external collaborator produces and the control loop
// consumes, plus the defaults and validation rules applied to it.
package fanconfig

import (
	"fmt"
	"sort"
	"time"

	"github.com/superfan-go/fanctl/pkg/boardprofile"
	"github.com/superfan-go/fanctl/pkg/fancurve"
	"github.com/superfan-go/fanctl/pkg/rawcmd"
	"github.com/superfan-go/fanctl/pkg/zone"
)

// IPMI holds the BMC connection parameters.
type IPMI struct {
	Host      string `yaml:"host"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Interface string `yaml:"interface"`
}

// Temperature holds zone-delta evaluation parameters shared across zones.
type Temperature struct {
	Hysteresis float64 `yaml:"hysteresis"`
}

// Point is one (Δt, percent) pair of a curve definition.
type Point [2]float64

// RPMRange mirrors board_config.speed_steps.*.rpm_ranges.*.*.
type RPMRange struct {
	Min    int `yaml:"min"`
	Max    int `yaml:"max"`
	Stable int `yaml:"stable"`
}

// SpeedStep mirrors one entry of board_config.speed_steps (H12 only).
type SpeedStep struct {
	Threshold int                           `yaml:"threshold"`
	HexSpeed  string                        `yaml:"hex_speed"`
	RPMRanges map[string]map[string]RPMRange `yaml:"rpm_ranges"`
}

// BoardConfig carries the optional H12 speed-step override table.
type BoardConfig struct {
	SpeedSteps map[string]SpeedStep `yaml:"speed_steps"`
}

// Zone mirrors one entry of fans.zones.
type Zone struct {
	Enabled     bool     `yaml:"enabled"`
	Target      float64  `yaml:"target"`
	WarningMax  float64  `yaml:"warning_max"`
	CriticalMax float64  `yaml:"critical_max"`
	Sensors     []string `yaml:"sensors"`
	Curve       []Point  `yaml:"curve"`
	// CurveType selects the FanCurve variant: "linear" (default), "step",
	// or "stablestep". StableStep ignores Curve and reads the active
	// BoardProfile's step table instead.
	CurveType string `yaml:"curve_type"`
}

// Fans mirrors the fans.* block.
type Fans struct {
	PollingInterval int             `yaml:"polling_interval"`
	MonitorInterval int             `yaml:"monitor_interval"`
	MinSpeed        int             `yaml:"min_speed"`
	MaxSpeed        int             `yaml:"max_speed"`
	RampStep        int             `yaml:"ramp_step"`
	PermitOff       bool            `yaml:"permit_off"`
	Zones           map[string]Zone `yaml:"zones"`
	BoardConfig     BoardConfig     `yaml:"board_config"`
}

// Safety mirrors the safety.* block.
type Safety struct {
	WatchdogTimeout int  `yaml:"watchdog_timeout"`
	MinTempReadings int  `yaml:"min_temp_readings"`
	MinWorkingFans  int  `yaml:"min_working_fans"`
	RestoreOnExit   bool `yaml:"restore_on_exit"`
}

// Config is the root of the Configuration contract.
type Config struct {
	IPMI        IPMI        `yaml:"ipmi"`
	Temperature Temperature `yaml:"temperature"`
	Fans        Fans        `yaml:"fans"`
	Safety      Safety      `yaml:"safety"`
}

// Default returns the contract's documented defaults.
func Default() *Config {
	return &Config{
		IPMI: IPMI{
			Host:      "localhost",
			Username:  "ADMIN",
			Password:  "ADMIN",
			Interface: "lanplus",
		},
		Temperature: Temperature{Hysteresis: 3},
		Fans: Fans{
			PollingInterval: 5,
			MonitorInterval: 30,
			MinSpeed:        0,
			MaxSpeed:        100,
			RampStep:        10,
			Zones: map[string]Zone{
				"chassis": {
					Enabled: true, Target: 45, WarningMax: 65, CriticalMax: 80,
					Sensors: []string{"*Temp*"},
					Curve:   []Point{{0, 25}, {5, 35}, {10, 50}, {15, 65}, {20, 80}, {25, 100}},
				},
				"cpu": {
					Enabled: true, Target: 55, WarningMax: 75, CriticalMax: 90,
					Sensors: []string{"CPU*Temp*"},
					Curve:   []Point{{0, 30}, {5, 40}, {10, 55}, {15, 70}, {20, 85}, {25, 100}},
				},
			},
		},
		Safety: Safety{
			WatchdogTimeout: 90,
			MinTempReadings: 2,
			MinWorkingFans:  2,
			RestoreOnExit:   true,
		},
	}
}

// Validate enforces the contract's required values and ranges.
func (c *Config) Validate() error {
	if c.IPMI.Interface == "" {
		return fmt.Errorf("%w: ipmi.interface", ErrMissing)
	}
	if c.Temperature.Hysteresis < 0 {
		return fmt.Errorf("%w: temperature.hysteresis must be >= 0", ErrInvalidValue)
	}
	if c.Fans.PollingInterval <= 0 {
		return fmt.Errorf("%w: fans.polling_interval must be > 0", ErrInvalidValue)
	}
	if c.Fans.MonitorInterval <= 0 {
		return fmt.Errorf("%w: fans.monitor_interval must be > 0", ErrInvalidValue)
	}
	if c.Fans.MinSpeed < 0 || c.Fans.MaxSpeed > 100 || c.Fans.MinSpeed > c.Fans.MaxSpeed {
		return fmt.Errorf("%w: fans.min_speed/max_speed out of range", ErrInvalidValue)
	}
	if c.Fans.RampStep <= 0 || c.Fans.RampStep > 100 {
		return fmt.Errorf("%w: fans.ramp_step must be in (0,100]", ErrInvalidValue)
	}
	if len(c.Fans.Zones) == 0 {
		return fmt.Errorf("%w: fans.zones must define at least one zone", ErrMissing)
	}
	for name, z := range c.Fans.Zones {
		if z.CriticalMax <= z.WarningMax {
			return fmt.Errorf("%w: zone %s critical_max must exceed warning_max", ErrInvalidValue, name)
		}
		if z.Enabled && z.CurveType != "stablestep" && len(z.Curve) == 0 {
			return fmt.Errorf("%w: zone %s has no curve points", ErrMissing, name)
		}
	}
	if c.Safety.WatchdogTimeout <= 0 {
		return fmt.Errorf("%w: safety.watchdog_timeout must be > 0", ErrInvalidValue)
	}
	if c.Safety.MinWorkingFans <= 0 {
		return fmt.Errorf("%w: safety.min_working_fans must be > 0", ErrInvalidValue)
	}
	return nil
}

// PollingInterval returns fans.polling_interval as a duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Fans.PollingInterval) * time.Second
}

// MonitorInterval returns fans.monitor_interval as a duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Fans.MonitorInterval) * time.Second
}

// WatchdogTimeout returns safety.watchdog_timeout as a duration.
func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.Safety.WatchdogTimeout) * time.Second
}

// BuildZones converts the configuration's zone table into zone.Zone values
// with concrete FanCurve instances attached, applying any board_config
// speed-step override to profile first. Go maps do not iterate in a stable
// order; callers that need one should sort the result by Name.
func (c *Config) BuildZones(profile *boardprofile.Profile) ([]zone.Zone, error) {
	if err := c.applyBoardConfig(profile); err != nil {
		return nil, err
	}
	out := make([]zone.Zone, 0, len(c.Fans.Zones))
	for name, zc := range c.Fans.Zones {
		curve, err := c.buildCurve(zc, profile)
		if err != nil {
			return nil, fmt.Errorf("fanconfig: zone %s: %w", name, err)
		}
		out = append(out, zone.Zone{
			Name:        name,
			Enabled:     zc.Enabled,
			Target:      zc.Target,
			WarningMax:  zc.WarningMax,
			CriticalMax: zc.CriticalMax,
			Sensors:     zc.Sensors,
			Curve:       curve,
		})
	}
	return out, nil
}

func (c *Config) buildCurve(zc Zone, profile *boardprofile.Profile) (fancurve.Curve, error) {
	minSpeed := float64(c.Fans.MinSpeed)
	maxSpeed := float64(c.Fans.MaxSpeed)

	switch zc.CurveType {
	case "stablestep":
		// Discrete steps are already stable under small temperature
		// wobble, so the hysteresis wrapper is not applied here.
		return fancurve.NewStableStep(profile, minSpeed, maxSpeed), nil
	case "step":
		curve, err := fancurve.NewStep(toFancurvePoints(zc.Curve), minSpeed, maxSpeed)
		if err != nil {
			return nil, err
		}
		return c.wrapHysteresis(curve), nil
	default:
		curve, err := fancurve.NewLinear(toFancurvePoints(zc.Curve), minSpeed, maxSpeed)
		if err != nil {
			return nil, err
		}
		return c.wrapHysteresis(curve), nil
	}
}

// wrapHysteresis applies temperature.hysteresis as the re-evaluation gate
// around a continuous curve; zero disables the gate.
func (c *Config) wrapHysteresis(curve fancurve.Curve) fancurve.Curve {
	if c.Temperature.Hysteresis <= 0 {
		return curve
	}
	return fancurve.NewHysteresis(curve, c.Temperature.Hysteresis)
}

// applyBoardConfig replaces an H12 profile's built-in speed-step table with
// the board_config.speed_steps override when one is configured. Other
// generations have no step table, so the override is ignored for them.
func (c *Config) applyBoardConfig(profile *boardprofile.Profile) error {
	if profile.Generation != boardprofile.H12 || len(c.Fans.BoardConfig.SpeedSteps) == 0 {
		return nil
	}

	steps := make([]boardprofile.SpeedStep, 0, len(c.Fans.BoardConfig.SpeedSteps))
	for name, sc := range c.Fans.BoardConfig.SpeedSteps {
		b, ok := rawcmd.ParseHexByte(sc.HexSpeed)
		if !ok {
			return fmt.Errorf("%w: board_config step %s hex_speed %q", ErrInvalidValue, name, sc.HexSpeed)
		}
		if sc.Threshold < 0 || sc.Threshold > 100 {
			return fmt.Errorf("%w: board_config step %s threshold %d", ErrInvalidValue, name, sc.Threshold)
		}
		groups := make(map[boardprofile.FanGroup]boardprofile.RPMRange)
		for zoneKey, groupMap := range sc.RPMRanges {
			for groupKey, r := range groupMap {
				group, ok := resolveFanGroup(zoneKey, groupKey)
				if !ok {
					return fmt.Errorf("%w: board_config step %s fan group %s.%s", ErrInvalidValue, name, zoneKey, groupKey)
				}
				groups[group] = boardprofile.RPMRange{Min: r.Min, Max: r.Max, Stable: r.Stable}
			}
		}
		steps = append(steps, boardprofile.SpeedStep{
			Name:             name,
			ThresholdPercent: sc.Threshold,
			Byte:             b,
			Groups:           groups,
		})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].ThresholdPercent < steps[j].ThresholdPercent })
	profile.Steps = steps
	return nil
}

func resolveFanGroup(zoneKey, groupKey string) (boardprofile.FanGroup, bool) {
	switch groupKey {
	case "high_rpm":
		return boardprofile.HighRPM, true
	case "low_rpm":
		return boardprofile.LowRPM, true
	case "cpu":
		return boardprofile.CPUGroup, true
	}
	if zoneKey == "cpu" {
		return boardprofile.CPUGroup, true
	}
	return "", false
}

func toFancurvePoints(points []Point) []fancurve.Point {
	out := make([]fancurve.Point, len(points))
	for i, p := range points {
		out[i] = fancurve.Point{Delta: p[0], Speed: p[1]}
	}
	return out
}
