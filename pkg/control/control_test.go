// SPDX-License-Identifier: BSD-3-Clause

package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superfan-go/fanctl/pkg/bmctransport"
	"github.com/superfan-go/fanctl/pkg/boardprofile"
	"github.com/superfan-go/fanctl/pkg/commander"
	"github.com/superfan-go/fanctl/pkg/fancurve"
	"github.com/superfan-go/fanctl/pkg/safety"
	"github.com/superfan-go/fanctl/pkg/sensorstore"
	"github.com/superfan-go/fanctl/pkg/zone"
)

type cannedDetector struct{ mcInfo string }

func (d *cannedDetector) DMIBaseboard(context.Context) (string, error) { return "", nil }
func (d *cannedDetector) McInfo(context.Context) (string, error)       { return d.mcInfo, nil }
func (d *cannedDetector) FirmwareRevisionMajor(context.Context) (int, error) {
	return 0, boardprofile.ErrDetectionFailed
}

func sdrWithCPUTemp(temp string) string {
	return "CPU1 Temp | " + temp + " degrees C | ok\n" +
		"FAN1 | 1400 RPM | ok\n" +
		"FAN2 | 900 RPM | ok\n"
}

const stalledSDR = "CPU1 Temp | 60.000 degrees C | ok\n" +
	"FAN1 | 0 RPM | ok\n" +
	"FAN2 | 0 RPM | ok\n"

type fixture struct {
	transport *bmctransport.FakeTransport
	loop      *ControlLoop
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	transport := bmctransport.NewFakeTransport()
	transport.Responses["sdr list"] = sdrWithCPUTemp("75.000")
	transport.Responses["raw 0x30 0x45 0x00"] = "01"

	cmdr := commander.New(commander.Config{
		Transport:   transport,
		Detector:    &cannedDetector{mcInfo: "Supermicro X10DRW"},
		SettleDelay: time.Millisecond,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, cmdr.Open(context.Background()))

	reader, err := sensorstore.New(sensorstore.Config{
		ReadingTimeout: 10 * time.Minute,
		MinReadings:    2,
		FetchIPMI: func(ctx context.Context) ([]sensorstore.Reading, error) {
			return cmdr.GetSensorReadings(ctx)
		},
	})
	require.NoError(t, err)

	curve, err := fancurve.NewLinear(
		[]fancurve.Point{{Delta: 0, Speed: 20}, {Delta: 10, Speed: 40}, {Delta: 20, Speed: 60}, {Delta: 30, Speed: 80}, {Delta: 40, Speed: 100}},
		0, 100,
	)
	require.NoError(t, err)

	zones := []zone.Zone{
		{Name: "cpu", Enabled: true, Target: 65, WarningMax: 75, CriticalMax: 90, Sensors: []string{"CPU*Temp*"}, Curve: curve},
	}

	monitor := safety.New(safety.Config{
		Commander:       cmdr,
		Reader:          reader,
		Zones:           zones,
		WatchdogTimeout: 90 * time.Second,
	})

	loop, err := New(Config{
		Commander: cmdr,
		Reader:    reader,
		Monitor:   monitor,
		Zones:     zones,
		Params: Params{
			PollingInterval: 10 * time.Millisecond,
			MonitorInterval: 10 * time.Millisecond,
			RampStep:        5,
		},
	}, opts...)
	require.NoError(t, err)

	return &fixture{transport: transport, loop: loop}
}

func countSpeedCommands(calls []string) int {
	n := 0
	for _, c := range calls {
		if len(c) > len("raw 0x30 0x70") && c[:len("raw 0x30 0x70")] == "raw 0x30 0x70" {
			n++
		}
	}
	return n
}

func TestTickNormalRampLimitedStepUp(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop.fsm.Fire(context.Background(), "start"))

	// CPU1 at 75 against target 65 gives a delta of 10, so the curve asks
	// for 40. From 30, the ramp cap limits this tick to 35.
	f.loop.zones[0].lastCommanded = 30
	f.loop.zones[0].primed = true

	f.loop.tickNormal(context.Background())

	assert.Equal(t, stateNormal, f.loop.fsm.CurrentState())
	assert.Equal(t, 35, f.loop.zones[0].lastCommanded)
	assert.Contains(t, f.transport.Calls, "raw 0x30 0x70 0x66 0x01 0x01 0x59")
}

func TestTickNormalReachesTargetOverTicks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop.fsm.Fire(context.Background(), "start"))
	f.loop.zones[0].lastCommanded = 30
	f.loop.zones[0].primed = true

	f.loop.tickNormal(context.Background())
	f.loop.tickNormal(context.Background())
	assert.Equal(t, 40, f.loop.zones[0].lastCommanded)

	// At target, the change gate suppresses further commands.
	before := countSpeedCommands(f.transport.Calls)
	f.loop.tickNormal(context.Background())
	assert.Equal(t, 40, f.loop.zones[0].lastCommanded)
	assert.Equal(t, before, countSpeedCommands(f.transport.Calls))
}

func TestTickNormalSkipsZoneWithNoMatchedSensor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop.fsm.Fire(context.Background(), "start"))
	f.loop.zones[0].Sensors = []string{"Nope*"}
	f.loop.zones[0].lastCommanded = 30
	f.loop.zones[0].primed = true

	before := countSpeedCommands(f.transport.Calls)
	f.loop.tickNormal(context.Background())
	assert.Equal(t, 30, f.loop.zones[0].lastCommanded, "speed is left alone when no sensor matches")
	assert.Equal(t, before, countSpeedCommands(f.transport.Calls))
}

func TestCriticalTripEntersEmergencyAndRecovers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop.fsm.Fire(context.Background(), "start"))
	f.loop.zones[0].lastCommanded = 30
	f.loop.zones[0].primed = true

	// Tick 1: healthy.
	f.loop.tickNormal(context.Background())
	assert.Equal(t, stateNormal, f.loop.fsm.CurrentState())

	// Tick 2: the BMC reports a critical sensor.
	f.transport.Responses["sdr list"] = "CPU1 Temp | 90.000 degrees C | cr\nFAN1 | 1400 RPM | ok\nFAN2 | 900 RPM | ok\n"
	f.loop.tickNormal(context.Background())
	assert.Equal(t, stateEmergency, f.loop.fsm.CurrentState())

	// Emergency tick: both zones are forced to 100%.
	f.transport.Responses["sdr list"] = sdrWithCPUTemp("50.000")
	f.loop.tickEmergency(context.Background())
	assert.Contains(t, f.transport.Calls, "raw 0x30 0x70 0x66 0x01 0x00 0xff")
	assert.Contains(t, f.transport.Calls, "raw 0x30 0x70 0x66 0x01 0x01 0xff")
	assert.Equal(t, 100, f.loop.zones[0].lastCommanded)

	// Readings recovered, so the same tick transitions back to normal.
	assert.Equal(t, stateNormal, f.loop.fsm.CurrentState())
}

func TestExitEmergencySkipsZoneCommandsForOneTick(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop.fsm.Fire(context.Background(), "start"))
	f.loop.zones[0].lastCommanded = 30
	f.loop.zones[0].primed = true

	f.transport.Responses["sdr list"] = "CPU1 Temp | 90.000 degrees C | cr\nFAN1 | 1400 RPM | ok\nFAN2 | 900 RPM | ok\n"
	f.loop.tickNormal(context.Background())
	require.Equal(t, stateEmergency, f.loop.fsm.CurrentState())

	f.transport.Responses["sdr list"] = sdrWithCPUTemp("75.000")
	f.loop.tickEmergency(context.Background())
	require.Equal(t, stateNormal, f.loop.fsm.CurrentState())

	// The first normal tick after emergency logs and holds: no zone
	// command, speeds stay at the emergency value.
	before := countSpeedCommands(f.transport.Calls)
	f.loop.tickNormal(context.Background())
	assert.Equal(t, before, countSpeedCommands(f.transport.Calls))
	assert.Equal(t, 100, f.loop.zones[0].lastCommanded)

	// The next tick resumes ramp-limited control back down.
	f.loop.tickNormal(context.Background())
	assert.Equal(t, 95, f.loop.zones[0].lastCommanded)
}

func TestEmergencyFallsBackToStandardModeOnVerifyFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop.fsm.Fire(context.Background(), "start"))
	f.loop.zones[0].lastCommanded = 30
	f.loop.zones[0].primed = true

	f.loop.tickNormal(context.Background())
	require.Equal(t, stateNormal, f.loop.fsm.CurrentState())

	// Every fan stalls: tickNormal trips, and the emergency tick's 100%
	// command cannot be verified.
	f.transport.Responses["sdr list"] = stalledSDR
	f.transport.Responses["raw 0x30 0x45 0x00"] = "00"
	f.loop.tickNormal(context.Background())
	require.Equal(t, stateEmergency, f.loop.fsm.CurrentState())

	f.loop.tickEmergency(context.Background())
	assert.Equal(t, stateEmergency, f.loop.fsm.CurrentState(), "verification still failing keeps the loop in emergency")
	assert.Contains(t, f.transport.Calls, "raw 0x30 0x45 0x01 0x00", "last-resort fallback hands control back to the BMC")
}

func TestStartStopLifecycleObserveOnly(t *testing.T) {
	f := newFixture(t, WithObserveOnly())
	ctx := context.Background()

	require.NoError(t, f.loop.Start(ctx))
	status := f.loop.Status()
	assert.True(t, status.Running)
	assert.False(t, status.Emergency)

	// Starting again while running is a no-op.
	require.NoError(t, f.loop.Start(ctx))

	require.NoError(t, f.loop.Stop(ctx))
	assert.False(t, f.loop.Status().Running)

	// Stop is idempotent.
	require.NoError(t, f.loop.Stop(ctx))
}

func TestStatusSnapshotShape(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loop.fsm.Fire(context.Background(), "start"))
	f.loop.zones[0].lastCommanded = 30
	f.loop.zones[0].primed = true
	f.loop.tickNormal(context.Background())

	status := f.loop.Status()
	assert.True(t, status.Running)
	assert.Contains(t, status.Temperatures, "CPU1 Temp")

	zs, ok := status.FanSpeeds["cpu"]
	require.True(t, ok)
	assert.Equal(t, 35, zs.CurrentPercent)
	assert.Equal(t, 40, zs.TargetPercent, "target reflects the curve, current the ramp-limited command")
}
