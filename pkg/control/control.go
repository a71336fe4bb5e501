// SPDX-License-Identifier: BSD-3-Clause

// Package control implements the fan control loop: a single worker that
// primes fan speed on start, runs the normal/emergency tick logic every
// interval, and exposes a status snapshot to an external caller.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/superfan-go/fanctl/internal/fanctllog"
	"github.com/superfan-go/fanctl/pkg/boardprofile"
	"github.com/superfan-go/fanctl/pkg/commander"
	"github.com/superfan-go/fanctl/pkg/fancurve"
	"github.com/superfan-go/fanctl/pkg/fanfsm"
	"github.com/superfan-go/fanctl/pkg/fansupervisor"
	"github.com/superfan-go/fanctl/pkg/safety"
	"github.com/superfan-go/fanctl/pkg/sensorstore"
	"github.com/superfan-go/fanctl/pkg/zone"
)

const (
	stateStopped   = "stopped"
	stateNormal    = "normal"
	stateEmergency = "emergency"
	stateStopping  = "stopping"
)

// stableStepChangeThreshold and defaultChangeThreshold implement the
// per-tick suppression gate: 5% when the zone's curve is StableStep, 1%
// otherwise.
const (
	stableStepChangeThreshold = 5.0
	defaultChangeThreshold    = 1.0
)

// zoneRuntime tracks one zone's last commanded speed and last curve target
// across ticks.
type zoneRuntime struct {
	zone.Zone
	boardZone     boardprofile.Zone
	lastCommanded int
	lastTarget    int
	lastExpected  map[boardprofile.FanGroup]boardprofile.RPMRange
	primed        bool
}

// ZoneStatus is one zone's entry in a Status snapshot.
type ZoneStatus struct {
	CurrentPercent int
	TargetPercent  int
	ExpectedRPMs   map[boardprofile.FanGroup]boardprofile.RPMRange
}

// Status is the snapshot exposed to an external caller (UI or CLI).
type Status struct {
	Running      bool
	Emergency    bool
	Temperatures map[string]float64
	FanSpeeds    map[string]ZoneStatus
}

// Params holds the control loop's configuration-derived knobs.
type Params struct {
	PollingInterval time.Duration
	MonitorInterval time.Duration
	RampStep        int
	RestoreOnExit   bool
	// ObserveOnly disables fan-speed dispatch, logging intended commands at
	// MonitorInterval cadence instead.
	ObserveOnly bool
}

// Option configures a ControlLoop at construction time.
type Option interface {
	apply(*ControlLoop)
}

type optionFunc func(*ControlLoop)

func (f optionFunc) apply(cl *ControlLoop) { f(cl) }

// WithObserveOnly puts the loop in observe-only mode: it evaluates curves
// and logs the command it would send but never calls Commander.SetFanSpeed.
func WithObserveOnly() Option {
	return optionFunc(func(cl *ControlLoop) { cl.params.ObserveOnly = true })
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(cl *ControlLoop) { cl.logger = fanctllog.OrDefault(l) })
}

// ControlLoop is the long-lived worker that owns all fan control state.
type ControlLoop struct {
	// mu serializes the lifecycle surface (Start/Stop). stateMu is the
	// short lock Status shares with the worker's zone-state writes; it is
	// never held across I/O.
	mu      sync.Mutex
	stateMu sync.Mutex

	commander *commander.Commander
	reader    *sensorstore.CombinedSensorReader
	monitor   *safety.Monitor

	zones  []*zoneRuntime
	params Params

	fsm        *fanfsm.FSM
	supervisor *fansupervisor.Supervisor
	logger     *slog.Logger

	wasEmergency bool
}

// Config parameterizes ControlLoop construction.
type Config struct {
	Commander *commander.Commander
	Reader    *sensorstore.CombinedSensorReader
	Monitor   *safety.Monitor
	Zones     []zone.Zone
	Params    Params
	Logger    *slog.Logger
}

// New builds a ControlLoop in the Stopped state.
func New(cfg Config, opts ...Option) (*ControlLoop, error) {
	machine, err := fanfsm.New(fanfsm.NewConfig(
		fanfsm.WithName("control-loop"),
		fanfsm.WithInitialState(stateStopped),
		fanfsm.WithStates(stateStopped, stateNormal, stateEmergency, stateStopping),
		fanfsm.WithTransition(stateStopped, stateNormal, "start"),
		fanfsm.WithTransition(stateNormal, stateEmergency, "trip"),
		fanfsm.WithTransition(stateEmergency, stateNormal, "recover"),
		fanfsm.WithTransition(stateNormal, stateStopping, "stop"),
		fanfsm.WithTransition(stateEmergency, stateStopping, "stop"),
		fanfsm.WithTransition(stateStopping, stateStopped, "stopped"),
	))
	if err != nil {
		return nil, fmt.Errorf("control: build state machine: %w", err)
	}

	zones := make([]*zoneRuntime, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		bz := boardprofile.Chassis
		if z.Name == "cpu" {
			bz = boardprofile.CPU
		}
		zones = append(zones, &zoneRuntime{Zone: z, boardZone: bz})
	}

	cl := &ControlLoop{
		commander: cfg.Commander,
		reader:    cfg.Reader,
		monitor:   cfg.Monitor,
		zones:     zones,
		params:    cfg.Params,
		fsm:       machine,
		logger:    fanctllog.OrDefault(cfg.Logger),
	}
	for _, opt := range opts {
		opt.apply(cl)
	}

	sup, err := fansupervisor.New(fansupervisor.Config{Worker: cl, Logger: cl.logger})
	if err != nil {
		return nil, fmt.Errorf("control: build supervisor: %w", err)
	}
	cl.supervisor = sup

	return cl, nil
}

// Name implements fansupervisor.Worker.
func (cl *ControlLoop) Name() string { return "control-loop" }

// Start sets full manual mode, primes every enabled zone, then spawns the
// supervised worker. Starting an already-running loop is a no-op.
func (cl *ControlLoop) Start(ctx context.Context) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if !cl.fsm.IsInState(stateStopped) {
		return nil
	}

	if err := cl.commander.SetFanMode(ctx, commander.ModeFull); err != nil {
		return fmt.Errorf("control: set fan mode full: %w", err)
	}

	now := time.Now()
	profile := cl.commander.Profile()
	for _, zr := range cl.zones {
		if !zr.Enabled {
			continue
		}
		target := cl.primingTarget(zr, profile, now)
		if cl.params.ObserveOnly {
			cl.logger.Info("observe-only: would prime zone", "zone", zr.Name, "target_pct", target)
			cl.setZoneCommanded(zr, target)
			continue
		}
		commanded, err := cl.commander.SetFanSpeed(ctx, target, zr.boardZone)
		if err != nil {
			return fmt.Errorf("control: prime zone %s: %w", zr.Name, err)
		}
		cl.setZoneCommanded(zr, commanded)
	}

	if err := cl.fsm.Fire(ctx, "start"); err != nil {
		return err
	}
	return cl.supervisor.Start(ctx)
}

func (cl *ControlLoop) primingTarget(zr *zoneRuntime, profile *boardprofile.Profile, now time.Time) int {
	if delta, ok := zone.Delta(cl.reader, zr.Zone, now); ok {
		return int(math.Round(zr.Curve.SpeedFor(delta).Percent))
	}
	if profile.Generation == boardprofile.H12 {
		return 50
	}
	return profile.FloorPercent(false)
}

// Stop cancels the worker, joins it, then restores Standard mode if
// configured. Idempotent.
func (cl *ControlLoop) Stop(ctx context.Context) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.fsm.IsInState(stateStopped) {
		return nil
	}

	if err := cl.fsm.Fire(ctx, "stop"); err != nil {
		cl.logger.Warn("stop transition rejected", "error", err)
	}
	if err := cl.supervisor.Stop(ctx); err != nil {
		cl.logger.Warn("worker stop reported error", "error", err)
	}
	if err := cl.fsm.Fire(ctx, "stopped"); err != nil {
		cl.logger.Warn("stopped transition rejected", "error", err)
	}

	if cl.params.RestoreOnExit {
		if err := cl.commander.SetFanMode(ctx, commander.ModeStandard); err != nil {
			cl.logger.Warn("restore to standard mode on exit failed", "error", err)
		}
	}
	return nil
}

// Run is the supervised worker body: it ticks until ctx is canceled or the
// machine reaches Stopping.
func (cl *ControlLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch cl.fsm.CurrentState() {
		case stateNormal:
			cl.tickNormal(ctx)
		case stateEmergency:
			cl.tickEmergency(ctx)
		default:
			return nil
		}

		interval := cl.params.PollingInterval
		if cl.params.ObserveOnly {
			interval = cl.params.MonitorInterval
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (cl *ControlLoop) tickNormal(ctx context.Context) {
	now := time.Now()
	if err := cl.reader.Update(ctx, now); err != nil {
		cl.logger.Warn("sensor update failed", "error", err)
	}

	safe, reason, err := cl.monitor.Check(ctx, now)
	if err != nil {
		cl.logger.Error("safety check errored, treating as unsafe", "error", err)
		safe = false
	}
	if !safe {
		cl.logger.Error("safety check failed, entering emergency", "reason", reason.String())
		if err := cl.fsm.Fire(ctx, "trip"); err != nil {
			cl.logger.Error("failed to transition to emergency", "error", err)
		}
		cl.wasEmergency = true
		return
	}
	if cl.wasEmergency {
		// Skip this tick's zone commands: the fans were just forced to
		// 100% and a fresh delta next tick gives a saner starting point
		// than ramping off the emergency value mid-settle.
		cl.logger.Info("exited emergency, resuming normal control")
		cl.wasEmergency = false
		return
	}

	for _, zr := range cl.zones {
		if !zr.Enabled {
			continue
		}
		delta, ok := zone.Delta(cl.reader, zr.Zone, now)
		if !ok {
			cl.logger.Debug("no sensor matched zone, skipping", "zone", zr.Name)
			continue
		}

		result := zr.Curve.SpeedFor(delta)
		target := int(math.Round(result.Percent))
		cl.setZoneTarget(zr, target)
		if result.ExpectedRPMs != nil {
			cl.stateMu.Lock()
			zr.lastExpected = result.ExpectedRPMs
			cl.stateMu.Unlock()
		}
		current := cl.zoneCommanded(zr)

		threshold := defaultChangeThreshold
		if _, isStableStep := zr.Curve.(*fancurve.StableStep); isStableStep {
			threshold = stableStepChangeThreshold
		}
		if math.Abs(float64(target-current)) < threshold {
			continue
		}

		step := target - current
		if step > cl.params.RampStep {
			step = cl.params.RampStep
		} else if step < -cl.params.RampStep {
			step = -cl.params.RampStep
		}
		next := current + step

		if cl.params.ObserveOnly {
			cl.logger.Info("observe-only: would set fan speed", "zone", zr.Name, "target_pct", next)
			cl.setZoneCommanded(zr, next)
			continue
		}

		commanded, err := cl.commander.SetFanSpeed(ctx, next, zr.boardZone)
		if err != nil {
			cl.logger.Error("set fan speed failed", "zone", zr.Name, "error", err)
			continue
		}
		cl.setZoneCommanded(zr, commanded)
	}
}

func (cl *ControlLoop) tickEmergency(ctx context.Context) {
	// Refresh readings first: recovery depends on fresh samples replacing
	// the critical one that tripped us, and on the watchdog timestamp
	// advancing while we sit in emergency.
	now := time.Now()
	if err := cl.reader.Update(ctx, now); err != nil {
		cl.logger.Warn("sensor update failed", "error", err)
	}

	if cl.params.ObserveOnly {
		cl.logger.Info("observe-only: would force both zones to 100%")
	} else {
		if _, err := cl.commander.SetFanSpeed(ctx, 100, boardprofile.Chassis); err != nil {
			cl.logger.Error("emergency speed command failed", "zone", "chassis", "error", err)
		}
		if _, err := cl.commander.SetFanSpeed(ctx, 100, boardprofile.CPU); err != nil {
			cl.logger.Error("emergency speed command failed", "zone", "cpu", "error", err)
		}
		for _, zr := range cl.zones {
			cl.setZoneCommanded(zr, 100)
			cl.setZoneTarget(zr, 100)
		}

		ok, err := cl.commander.VerifyFanSpeed(ctx, 100, 10)
		if err != nil || !ok {
			cl.logger.Error("emergency fan speed verify failed, falling back to standard mode", "error", err)
			if ferr := cl.commander.SetFanMode(ctx, commander.ModeStandard); ferr != nil {
				cl.logger.Error("fallback to standard mode failed", "error", ferr)
			}
		}
	}

	safe, reason, err := cl.monitor.Check(ctx, now)
	if err == nil && safe {
		if ferr := cl.fsm.Fire(ctx, "recover"); ferr != nil {
			cl.logger.Error("failed to transition back to normal", "error", ferr)
			return
		}
		cl.logger.Info("safety checks pass, returning to normal control")
		return
	}
	if err != nil {
		cl.logger.Debug("safety re-check errored, remaining in emergency", "error", err)
	} else {
		cl.logger.Debug("safety still failing, remaining in emergency", "reason", reason.String())
	}
}

func (cl *ControlLoop) setZoneCommanded(zr *zoneRuntime, percent int) {
	cl.stateMu.Lock()
	zr.lastCommanded = percent
	if !zr.primed {
		zr.lastTarget = percent
	}
	zr.primed = true
	cl.stateMu.Unlock()
}

func (cl *ControlLoop) setZoneTarget(zr *zoneRuntime, percent int) {
	cl.stateMu.Lock()
	zr.lastTarget = percent
	cl.stateMu.Unlock()
}

func (cl *ControlLoop) zoneCommanded(zr *zoneRuntime) int {
	cl.stateMu.Lock()
	defer cl.stateMu.Unlock()
	return zr.lastCommanded
}

// Status returns a point-in-time snapshot of the loop and its zones.
func (cl *ControlLoop) Status() Status {
	now := time.Now()
	fanSpeeds := make(map[string]ZoneStatus, len(cl.zones))
	cl.stateMu.Lock()
	for _, zr := range cl.zones {
		fanSpeeds[zr.Name] = ZoneStatus{
			CurrentPercent: zr.lastCommanded,
			TargetPercent:  zr.lastTarget,
			ExpectedRPMs:   zr.lastExpected,
		}
	}
	cl.stateMu.Unlock()

	return Status{
		Running:      !cl.fsm.IsInState(stateStopped),
		Emergency:    cl.fsm.IsInState(stateEmergency),
		Temperatures: cl.reader.AllTemperatures(now),
		FanSpeeds:    fanSpeeds,
	}
}
