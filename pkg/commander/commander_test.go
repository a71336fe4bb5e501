// SPDX-License-Identifier: BSD-3-Clause

package commander

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superfan-go/fanctl/pkg/bmctransport"
	"github.com/superfan-go/fanctl/pkg/boardprofile"
)

type cannedDetector struct {
	dmi    string
	mcInfo string
}

func (d *cannedDetector) DMIBaseboard(context.Context) (string, error) { return d.dmi, nil }
func (d *cannedDetector) McInfo(context.Context) (string, error)       { return d.mcInfo, nil }
func (d *cannedDetector) FirmwareRevisionMajor(context.Context) (int, error) {
	return 0, boardprofile.ErrDetectionFailed
}

const healthySDR = "CPU1 Temp | 50.000 degrees C | ok\n" +
	"FAN1 | 1400 RPM | ok\n" +
	"FAN2 | 900 RPM | ok\n"

func newTestCommander(t *testing.T, d boardprofile.Detector) (*Commander, *bmctransport.FakeTransport) {
	t.Helper()
	transport := bmctransport.NewFakeTransport()
	transport.Responses["sdr list"] = healthySDR
	transport.Responses["raw 0x30 0x45 0x00"] = "01"

	c := New(Config{
		Transport:   transport,
		Detector:    d,
		SettleDelay: time.Millisecond,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, c.Open(context.Background()))
	return c, transport
}

func TestOpenFailsClosedOnUnknownBoard(t *testing.T) {
	c := New(Config{
		Transport: bmctransport.NewFakeTransport(),
		Detector:  &cannedDetector{dmi: "Generic", mcInfo: "nothing"},
	})
	assert.ErrorIs(t, c.Open(context.Background()), boardprofile.ErrUnknownBoard)

	_, err := c.SetFanSpeed(context.Background(), 50, boardprofile.Chassis)
	assert.ErrorIs(t, err, boardprofile.ErrUnknownBoard, "no fan command may issue before detection")
}

func TestGetFanMode(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{mcInfo: "Supermicro X10DRW"})

	mode, err := c.GetFanMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeFull, mode)

	transport.Responses["raw 0x30 0x45 0x00"] = "09"
	_, err = c.GetFanMode(context.Background())
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestSetFanModeVerifiesReadback(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{mcInfo: "Supermicro X10DRW"})

	transport.Responses["raw 0x30 0x45 0x00"] = "00"
	assert.NoError(t, c.SetFanMode(context.Background(), ModeStandard))
	assert.Contains(t, transport.Calls, "raw 0x30 0x45 0x01 0x00")

	// Readback still says standard, so asking for full must fail.
	assert.ErrorIs(t, c.SetFanMode(context.Background(), ModeFull), ErrModeVerifyFailed)
}

func TestSetFanSpeedContinuousBoard(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{mcInfo: "Supermicro X10DRW"})

	commanded, err := c.SetFanSpeed(context.Background(), 50, boardprofile.CPU)
	require.NoError(t, err)
	assert.Equal(t, 50, commanded)
	assert.Contains(t, transport.Calls, "raw 0x30 0x70 0x66 0x01 0x01 0x80")

	last, ok := c.LastCommanded(boardprofile.CPU)
	require.True(t, ok)
	assert.Equal(t, 50, last)
}

func TestSetFanSpeedAppliesBoardFloor(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{mcInfo: "Supermicro X10DRW"})

	commanded, err := c.SetFanSpeed(context.Background(), 0, boardprofile.Chassis)
	require.NoError(t, err)
	assert.Equal(t, 5, commanded)
	assert.Contains(t, transport.Calls, "raw 0x30 0x70 0x66 0x01 0x00 0x0d")
}

func TestSetFanSpeedH12SnapsToStep(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{dmi: "Product Name: H12SSL-i"})

	commanded, err := c.SetFanSpeed(context.Background(), 55, boardprofile.Chassis)
	require.NoError(t, err)
	assert.Equal(t, 50, commanded, "commanded percent is the step threshold, not the request")
	assert.Contains(t, transport.Calls, "raw 0x30 0x70 0x66 0x01 0x00 0x40")
}

func TestSetFanSpeedH12Floor(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{dmi: "Product Name: H12SSL-i"})

	commanded, err := c.SetFanSpeed(context.Background(), 0, boardprofile.Chassis)
	require.NoError(t, err)
	assert.Equal(t, 12, commanded, "zero floors to 20, which snaps to very_low")
	assert.Contains(t, transport.Calls, "raw 0x30 0x70 0x66 0x01 0x00 0x10")
}

func TestSetFanSpeedPostVerifyTooFewFans(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{mcInfo: "Supermicro X10DRW"})
	transport.Responses["sdr list"] = "CPU1 Temp | 50.000 degrees C | ok\nFAN1 | 1400 RPM | ok\n"
	transport.Responses["raw 0x30 0x45 0x00"] = "00"

	_, err := c.SetFanSpeed(context.Background(), 40, boardprofile.Chassis)
	assert.ErrorIs(t, err, ErrFanUnsafe)
	assert.Contains(t, transport.Calls, "raw 0x30 0x45 0x01 0x00",
		"failure falls back to standard mode")

	_, ok := c.LastCommanded(boardprofile.Chassis)
	assert.False(t, ok, "a failed command does not update zone state")
}

func TestSetFanSpeedH12HardFailBelowGroupMin(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{dmi: "Product Name: H12SSL-i"})
	for i, step := range c.Profile().Steps {
		if step.Name == "medium" {
			c.Profile().Steps[i].Groups[boardprofile.LowRPM] = boardprofile.RPMRange{Min: 500, Max: 1400}
		}
	}
	transport.Responses["sdr list"] = "FAN1 | 1400 RPM | ok\nFAN2 | 300 RPM | ok\n"
	transport.Responses["raw 0x30 0x45 0x00"] = "00"

	_, err := c.SetFanSpeed(context.Background(), 50, boardprofile.Chassis)
	assert.ErrorIs(t, err, ErrFanUnsafe)
}

func TestVerifyFanSpeed(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{mcInfo: "Supermicro X10DRW"})

	ok, err := c.VerifyFanSpeed(context.Background(), 50, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	// Fans reporting zero RPM are stalled, not working.
	transport.Responses["sdr list"] = "FAN1 | 0 RPM | ok\nFAN2 | 0 RPM | ok\n"
	ok, err = c.VerifyFanSpeed(context.Background(), 50, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyFanSpeedHonorsMinWorkingFans(t *testing.T) {
	transport := bmctransport.NewFakeTransport()
	transport.Responses["sdr list"] = healthySDR
	c := New(Config{
		Transport:      transport,
		Detector:       &cannedDetector{mcInfo: "Supermicro X10DRW"},
		SettleDelay:    time.Millisecond,
		RetryDelay:     time.Millisecond,
		MinWorkingFans: 3,
	})
	require.NoError(t, c.Open(context.Background()))

	ok, err := c.VerifyFanSpeed(context.Background(), 50, 10)
	require.NoError(t, err)
	assert.False(t, ok, "only 2 of the required 3 fans are spinning")
}

func TestVerifyFanSpeedH12GroupFloor(t *testing.T) {
	c, transport := newTestCommander(t, &cannedDetector{dmi: "Product Name: H12SSL-i"})
	for i, step := range c.Profile().Steps {
		if step.Name == "full" {
			c.Profile().Steps[i].Groups[boardprofile.LowRPM] = boardprofile.RPMRange{Min: 1000, Max: 1400, Stable: 1400}
		}
	}

	// FAN2 at 950 is above min*(1-tol) = 900, so both fans pass.
	transport.Responses["sdr list"] = "FAN1 | 1400 RPM | ok\nFAN2 | 950 RPM | ok\n"
	ok, err := c.VerifyFanSpeed(context.Background(), 100, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	// At 850 it falls below the tolerated floor and only one fan remains.
	transport.Responses["sdr list"] = "FAN1 | 1400 RPM | ok\nFAN2 | 850 RPM | ok\n"
	ok, err = c.VerifyFanSpeed(context.Background(), 100, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

// scriptTransport fails with a scripted error per call, then succeeds.
type scriptTransport struct {
	errs  []error
	out   string
	calls int
}

func (s *scriptTransport) Execute(context.Context, string) (string, error) {
	defer func() { s.calls++ }()
	if s.calls < len(s.errs) && s.errs[s.calls] != nil {
		return "", s.errs[s.calls]
	}
	return s.out, nil
}

func busyErr() error {
	return &bmctransport.Error{Kind: bmctransport.ErrDeviceBusy, Command: "raw", Detail: "busy"}
}

func TestDispatchRetriesDeviceBusy(t *testing.T) {
	transport := &scriptTransport{errs: []error{busyErr(), busyErr()}, out: "01"}
	c := New(Config{
		Transport:   transport,
		Detector:    &cannedDetector{mcInfo: "Supermicro X10DRW"},
		RetryDelay:  time.Millisecond,
		SettleDelay: time.Millisecond,
	})
	// Detection does not consume transport calls here; the detector is canned.
	require.NoError(t, c.Open(context.Background()))

	mode, err := c.GetFanMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeFull, mode)
	assert.Equal(t, 3, transport.calls)
}

func TestDispatchExhaustsBusyRetries(t *testing.T) {
	transport := &scriptTransport{errs: []error{busyErr(), busyErr(), busyErr()}}
	c := New(Config{
		Transport:   transport,
		Detector:    &cannedDetector{mcInfo: "Supermicro X10DRW"},
		RetryDelay:  time.Millisecond,
		SettleDelay: time.Millisecond,
	})
	require.NoError(t, c.Open(context.Background()))

	_, err := c.GetFanMode(context.Background())
	assert.ErrorIs(t, err, ErrCommand)
	assert.Equal(t, 3, transport.calls, "busy retries stop at the attempt budget")
}

func TestDispatchConnectionLostSurfacesImmediately(t *testing.T) {
	transport := &scriptTransport{errs: []error{
		&bmctransport.Error{Kind: bmctransport.ErrConnectionLost, Command: "raw"},
	}}
	c := New(Config{
		Transport:   transport,
		Detector:    &cannedDetector{mcInfo: "Supermicro X10DRW"},
		RetryDelay:  time.Millisecond,
		SettleDelay: time.Millisecond,
	})
	require.NoError(t, c.Open(context.Background()))

	_, err := c.GetFanMode(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 1, transport.calls)
}

func TestParseFanMode(t *testing.T) {
	for b, want := range map[byte]FanMode{0x00: ModeStandard, 0x01: ModeFull, 0x02: ModeOptimal, 0x04: ModeHeavyIO} {
		got, ok := ParseFanMode(b)
		require.True(t, ok, "byte 0x%02x", b)
		assert.Equal(t, want, got)
	}
	_, ok := ParseFanMode(0x03)
	assert.False(t, ok)
}
