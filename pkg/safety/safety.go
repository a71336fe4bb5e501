// SPDX-License-Identifier: BSD-3-Clause

// Package safety implements the five-step safety evaluation run at the
// top of every control-loop iteration.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/superfan-go/fanctl/internal/fanctllog"
	"github.com/superfan-go/fanctl/pkg/commander"
	"github.com/superfan-go/fanctl/pkg/sensorstore"
	"github.com/superfan-go/fanctl/pkg/zone"
)

// Reason enumerates why a safety evaluation concluded unsafe, for logging.
type Reason int

const (
	// ReasonSafe indicates the system passed every check.
	ReasonSafe Reason = iota
	ReasonCriticalSensor
	ReasonNoSignal
	ReasonZoneCritical
	ReasonWatchdogExpired
	ReasonFanVerifyFailed
)

// String renders a human-readable reason code.
func (r Reason) String() string {
	switch r {
	case ReasonSafe:
		return "safe"
	case ReasonCriticalSensor:
		return "critical_sensor"
	case ReasonNoSignal:
		return "no_signal"
	case ReasonZoneCritical:
		return "zone_critical"
	case ReasonWatchdogExpired:
		return "watchdog_expired"
	case ReasonFanVerifyFailed:
		return "fan_verify_failed"
	default:
		return "unknown"
	}
}

// LastCommandedFunc returns the last commanded percent for any zone, used
// by step 5's verify_fan_speed call; implementations typically take the
// maximum across all enabled zones' last-commanded values.
type LastCommandedFunc func() int

// Monitor evaluates the five-step safety check.
type Monitor struct {
	commander       *commander.Commander
	reader          *sensorstore.CombinedSensorReader
	zones           []zone.Zone
	watchdogTimeout time.Duration
	tolerance       float64
	lastCommanded   LastCommandedFunc
	logger          *slog.Logger
}

// Config parameterizes Monitor construction.
type Config struct {
	Commander       *commander.Commander
	Reader          *sensorstore.CombinedSensorReader
	Zones           []zone.Zone
	WatchdogTimeout time.Duration
	TolerancePercent float64
	LastCommanded   LastCommandedFunc
	Logger          *slog.Logger
}

// New builds a Monitor.
func New(cfg Config) *Monitor {
	tol := cfg.TolerancePercent
	if tol <= 0 {
		tol = 10
	}
	return &Monitor{
		commander:       cfg.Commander,
		reader:          cfg.Reader,
		zones:           cfg.Zones,
		watchdogTimeout: cfg.WatchdogTimeout,
		tolerance:       tol,
		lastCommanded:   cfg.LastCommanded,
		logger:          fanctllog.OrDefault(cfg.Logger),
	}
}

// Check runs the five-step evaluation in order and returns whether the
// system is safe, the reason if not, and any hard error encountered while
// evaluating (itself treated as unsafe by callers).
func (m *Monitor) Check(ctx context.Context, now time.Time) (bool, Reason, error) {
	readings, err := m.commander.GetSensorReadings(ctx)
	if err != nil {
		return false, ReasonCriticalSensor, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}
	for _, r := range readings {
		if r.IsCritical() {
			m.logger.Error("critical sensor reading", "sensor", r.Name)
			return false, ReasonCriticalSensor, nil
		}
	}

	temps := m.reader.AllTemperatures(now)
	if len(temps) == 0 {
		m.logger.Error("no temperature signal from any source")
		return false, ReasonNoSignal, nil
	}

	for _, z := range m.zones {
		if !z.Enabled {
			continue
		}
		maxTemp, ok := zone.MaxTemperature(m.reader, z, now)
		if !ok {
			continue
		}
		if maxTemp >= z.CriticalMax {
			m.logger.Error("zone over critical temperature", "zone", z.Name, "temp", maxTemp, "critical_max", z.CriticalMax)
			return false, ReasonZoneCritical, nil
		}
	}

	if last, ok := m.reader.LastUpdate(); ok {
		if now.Sub(last) > m.watchdogTimeout {
			m.logger.Error("sensor watchdog expired", "age", now.Sub(last))
			return false, ReasonWatchdogExpired, nil
		}
	} else {
		return false, ReasonWatchdogExpired, nil
	}

	target := 0
	if m.lastCommanded != nil {
		target = m.lastCommanded()
	}
	ok, err := m.commander.VerifyFanSpeed(ctx, target, m.tolerance)
	if err != nil {
		return false, ReasonFanVerifyFailed, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}
	if !ok {
		m.logger.Error("fan speed verification failed")
		return false, ReasonFanVerifyFailed, nil
	}

	return true, ReasonSafe, nil
}
