// SPDX-License-Identifier: BSD-3-Clause

// Package commander implements the stateful façade over one BMC: it
// detects the board, sets fan mode/speed, reads sensors, and verifies RPM,
// composing the transport, command validator, and board profile.
package commander

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/superfan-go/fanctl/internal/fanctllog"
	"github.com/superfan-go/fanctl/pkg/bmctransport"
	"github.com/superfan-go/fanctl/pkg/boardprofile"
	"github.com/superfan-go/fanctl/pkg/rawcmd"
	"github.com/superfan-go/fanctl/pkg/sensorparser"
	"github.com/superfan-go/fanctl/pkg/sensorstore"
	"github.com/superfan-go/fanctl/pkg/validator"
)

// rpmTolerancePercent is the allowed deviation from a H12 step's stable
// RPM before a stability warning (not a hard failure) is logged.
const rpmTolerancePercent = 30.0

// zoneState is the last commanded speed and expected-RPM envelope for one
// zone, consulted only by verification.
type zoneState struct {
	lastCommandedPercent int
	expected             map[boardprofile.FanGroup]boardprofile.RPMRange
	set                  bool
}

// Commander is the stateful façade over one BMC connection.
type Commander struct {
	transport bmctransport.Transport
	detector  boardprofile.Detector

	mu             sync.Mutex
	profile        *boardprofile.Profile
	validator      *validator.Validator
	permitOff      bool
	settleDelay    time.Duration
	retries        int
	retryDelay     time.Duration
	minWorkingFans int

	zoneStates map[boardprofile.Zone]*zoneState

	logger *slog.Logger
}

// Config parameterizes Commander construction.
type Config struct {
	Transport   bmctransport.Transport
	Detector    boardprofile.Detector
	PermitOff   bool
	SettleDelay time.Duration
	Retries     int
	RetryDelay  time.Duration
	// MinWorkingFans is how many fans must pass VerifyFanSpeed's RPM check
	// for the verification to succeed (safety.min_working_fans, default 2).
	MinWorkingFans int
	Logger         *slog.Logger
}

// New builds a Commander. Open must be called before any other method.
func New(cfg Config) *Commander {
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	settleDelay := cfg.SettleDelay
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	minWorkingFans := cfg.MinWorkingFans
	if minWorkingFans <= 0 {
		minWorkingFans = 2
	}
	return &Commander{
		transport:      cfg.Transport,
		detector:       cfg.Detector,
		permitOff:      cfg.PermitOff,
		settleDelay:    settleDelay,
		retries:        retries,
		retryDelay:     retryDelay,
		minWorkingFans: minWorkingFans,
		zoneStates:     make(map[boardprofile.Zone]*zoneState),
		logger:         fanctllog.OrDefault(cfg.Logger),
	}
}

// Open performs board detection and fails closed with boardprofile.ErrUnknownBoard
// if detection cannot resolve a generation.
func (c *Commander) Open(ctx context.Context) error {
	gen := boardprofile.Detect(ctx, c.detector)
	if gen == boardprofile.Unknown {
		return boardprofile.ErrUnknownBoard
	}

	c.mu.Lock()
	c.profile = boardprofile.New(gen)
	floorByte := boardprofile.ContinuousByte(c.profile.FloorPercent(c.permitOff))
	if c.profile.Generation == boardprofile.H12 {
		floorByte = 0x00
	}
	c.validator = validator.New(validator.Config{MinSpeedByte: floorByte, PermitOff: c.permitOff})
	c.mu.Unlock()

	c.logger.Info("board detected", "generation", gen.String())
	return nil
}

// Profile returns the detected board profile. Panics are avoided by
// callers checking Open's error; calling before Open returns an Unknown
// profile.
func (c *Commander) Profile() *boardprofile.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return boardprofile.New(boardprofile.Unknown)
	}
	return c.profile
}

// GetFanMode issues the mode-query raw command and parses the response.
func (c *Commander) GetFanMode(ctx context.Context) (FanMode, error) {
	out, err := c.dispatch(ctx, boardprofile.ModeQueryCommand())
	if err != nil {
		return 0, err
	}
	b, ok := firstHexByte(out)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResponse, out)
	}
	mode, ok := ParseFanMode(b)
	if !ok {
		return 0, fmt.Errorf("%w: byte=0x%02x", ErrInvalidResponse, b)
	}
	return mode, nil
}

// SetFanMode issues the mode-set raw command, then re-reads the mode to
// verify the readback agrees.
func (c *Commander) SetFanMode(ctx context.Context, mode FanMode) error {
	if _, err := c.dispatch(ctx, boardprofile.ModeSetCommand(byte(mode))); err != nil {
		return err
	}
	got, err := c.GetFanMode(ctx)
	if err != nil {
		return err
	}
	if got != mode {
		return fmt.Errorf("%w: wanted %s, got %s", ErrModeVerifyFailed, mode, got)
	}
	return nil
}

// GetSensorReadings issues "sdr list" and parses the result via sensorparser.
func (c *Commander) GetSensorReadings(ctx context.Context) ([]sensorstore.Reading, error) {
	out, err := c.transport.Execute(ctx, "sdr list")
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return sensorparser.ParseSDR(out, time.Now()), nil
}

// SetFanSpeed clamps to the board floor, selects the operating point
// (snap-to-step for H12, continuous map otherwise), dispatches, and
// post-verifies fan health. It returns the percent actually commanded,
// which for H12 is the chosen step's threshold rather than the request.
func (c *Commander) SetFanSpeed(ctx context.Context, percent int, zone boardprofile.Zone) (int, error) {
	c.mu.Lock()
	profile := c.profile
	c.mu.Unlock()
	if profile == nil || profile.Generation == boardprofile.Unknown {
		return 0, boardprofile.ErrUnknownBoard
	}

	effective := c.clampToFloor(profile, percent)

	var speedByte byte
	var commandedPercent int
	var expected map[boardprofile.FanGroup]boardprofile.RPMRange
	var stepName string

	if profile.Generation == boardprofile.H12 {
		step, ok := profile.StepForPercent(effective)
		if !ok {
			return 0, fmt.Errorf("%w: no speed step table", boardprofile.ErrUnknownBoard)
		}
		speedByte = step.Byte
		commandedPercent = step.ThresholdPercent
		expected = step.Groups
		stepName = step.Name
	} else {
		speedByte = boardprofile.ContinuousByte(effective)
		commandedPercent = effective
	}

	cmd, err := profile.SetSpeedCommand(zone, speedByte)
	if err != nil {
		return 0, err
	}

	if _, err := c.dispatch(ctx, cmd); err != nil {
		c.fallbackToStandard(ctx)
		return 0, err
	}

	if c.settleDelay > 0 {
		select {
		case <-time.After(c.settleDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	if err := c.postVerifySpeed(ctx, profile, expected, stepName); err != nil {
		c.fallbackToStandard(ctx)
		return 0, err
	}

	c.mu.Lock()
	c.zoneStates[zone] = &zoneState{lastCommandedPercent: commandedPercent, expected: expected, set: true}
	c.mu.Unlock()

	return commandedPercent, nil
}

// LastCommanded returns the last percent successfully commanded for zone,
// and false if none has been commanded yet.
func (c *Commander) LastCommanded(zone boardprofile.Zone) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	zs, ok := c.zoneStates[zone]
	if !ok || !zs.set {
		return 0, false
	}
	return zs.lastCommandedPercent, true
}

func (c *Commander) clampToFloor(profile *boardprofile.Profile, percent int) int {
	floor := profile.FloorPercent(c.permitOff)
	effective := percent
	if effective <= 0 {
		if c.permitOff {
			return 0
		}
		effective = floor
	}
	if effective < floor {
		effective = floor
	}
	if effective > 100 {
		effective = 100
	}
	return effective
}

func (c *Commander) fallbackToStandard(ctx context.Context) {
	if err := c.SetFanMode(ctx, ModeStandard); err != nil {
		c.logger.Warn("fallback to standard mode failed", "error", err)
	}
}

// postVerifySpeed reads sensors after a speed command and checks fan RPM
// health: at least two fans must report RPM, and none may sit below its
// group's minimum for the commanded step.
func (c *Commander) postVerifySpeed(ctx context.Context, profile *boardprofile.Profile, expected map[boardprofile.FanGroup]boardprofile.RPMRange, stepName string) error {
	readings, err := c.GetSensorReadings(ctx)
	if err != nil {
		return err
	}

	nonNull := 0
	hardFail := false
	groupSum := make(map[boardprofile.FanGroup]float64)
	groupCount := make(map[boardprofile.FanGroup]int)
	for _, r := range readings {
		group, ok := boardprofile.ClassifyFanName(r.Name)
		if !ok || r.Value == nil {
			continue
		}
		nonNull++
		groupSum[group] += *r.Value
		groupCount[group]++
		rng, ok := expected[group]
		if !ok {
			continue
		}
		rpm := *r.Value
		if rpm < float64(rng.Min) {
			c.logger.Error("fan rpm below group minimum", "fan", r.Name, "rpm", rpm, "min", rng.Min)
			hardFail = true
			continue
		}
		if rpm > float64(rng.Max) {
			c.logger.Warn("fan rpm above group maximum", "fan", r.Name, "rpm", rpm, "max", rng.Max)
		}
		if rng.Stable > 0 {
			deviation := math.Abs(rpm-float64(rng.Stable)) / float64(rng.Stable) * 100
			if deviation > rpmTolerancePercent {
				c.logger.Warn("fan rpm deviates from stable value", "fan", r.Name, "rpm", rpm, "stable", rng.Stable, "deviation_pct", deviation)
			}
		}
	}

	if nonNull < 2 {
		return fmt.Errorf("%w: fewer than 2 fans reporting rpm", ErrFanUnsafe)
	}
	if hardFail {
		return ErrFanUnsafe
	}

	if stepName != "" {
		observed := make(map[boardprofile.FanGroup]float64, len(groupSum))
		for g, sum := range groupSum {
			observed[g] = sum / float64(groupCount[g])
		}
		if inferred, ok := profile.StepForObservedRPM(observed); ok && inferred.Name != stepName {
			c.logger.Warn("fans appear to be at a different step than commanded",
				"observed_step", inferred.Name, "commanded_step", stepName)
		}
	}
	return nil
}

// VerifyFanSpeed checks that enough fans are spinning within tolerance of
// the RPM envelope expected for targetPercent.
func (c *Commander) VerifyFanSpeed(ctx context.Context, targetPercent int, tolerancePercent float64) (bool, error) {
	c.mu.Lock()
	profile := c.profile
	c.mu.Unlock()
	if profile == nil {
		return false, boardprofile.ErrUnknownBoard
	}

	var groups map[boardprofile.FanGroup]boardprofile.RPMRange
	if profile.Generation == boardprofile.H12 {
		step, ok := profile.StepForPercent(targetPercent)
		if ok {
			groups = step.Groups
		}
	}

	readings, err := c.GetSensorReadings(ctx)
	if err != nil {
		return false, err
	}

	working := 0
	for _, r := range readings {
		group, ok := boardprofile.ClassifyFanName(r.Name)
		if !ok || r.State == sensorstore.NoReading || r.Value == nil {
			continue
		}
		// A fan reporting zero RPM is stalled, not working, regardless of
		// how permissive its group's minimum is.
		if *r.Value <= 0 {
			continue
		}
		if groups != nil {
			rng, ok := groups[group]
			if ok {
				floor := float64(rng.Min) * (1 - tolerancePercent/100)
				if *r.Value < floor {
					continue
				}
			}
		}
		working++
	}

	return working >= c.minWorkingFans, nil
}

// dispatch validates and executes cmd with the retry policy: only
// DeviceBusy triggers a retry (up to the configured attempt budget);
// ConnectionLost surfaces immediately; CommandFailed surfaces without retry.
func (c *Commander) dispatch(ctx context.Context, cmd rawcmd.RawCommand) (string, error) {
	c.mu.Lock()
	v := c.validator
	c.mu.Unlock()
	if v != nil {
		if err := v.Validate(cmd); err != nil {
			return "", err
		}
	}

	correlationID := uuid.NewString()
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		out, err := c.transport.Execute(ctx, cmd.String())
		if err == nil {
			return out, nil
		}

		var te *bmctransport.Error
		if errors.As(err, &te) {
			switch {
			case errors.Is(te.Kind, bmctransport.ErrConnectionLost):
				return "", fmt.Errorf("%w: %v", ErrConnection, err)
			case errors.Is(te.Kind, bmctransport.ErrDeviceBusy):
				lastErr = err
				c.logger.Debug("bmc busy, retrying", "attempt", attempt, "correlation_id", correlationID)
				if attempt < c.retries {
					select {
					case <-time.After(c.retryDelay):
					case <-ctx.Done():
						return "", ctx.Err()
					}
					continue
				}
				return "", fmt.Errorf("%w: %v", ErrCommand, lastErr)
			default:
				return "", fmt.Errorf("%w: %v", ErrCommand, err)
			}
		}
		return "", fmt.Errorf("%w: %v", ErrCommand, err)
	}
	return "", fmt.Errorf("%w: %v", ErrCommand, lastErr)
}

func classifyTransportError(err error) error {
	var te *bmctransport.Error
	if errors.As(err, &te) {
		if errors.Is(te.Kind, bmctransport.ErrConnectionLost) {
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrCommand, err)
}

func firstHexByte(out string) (byte, bool) {
	tokens := rawcmd.Tokens(out)
	for _, t := range tokens {
		if b, ok := rawcmd.ParseHexByte(t); ok {
			return b, true
		}
	}
	return 0, false
}
