// SPDX-License-Identifier: BSD-3-Clause

// Command fanctld wires the fanctl library packages into a running fan
// control daemon: it loads the YAML configuration, opens a Commander
// against a real ipmitool/nvme-cli shell transport, and runs a ControlLoop
// until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/superfan-go/fanctl/internal/fanctllog"
	"github.com/superfan-go/fanctl/pkg/bmctransport"
	"github.com/superfan-go/fanctl/pkg/boardprofile"
	"github.com/superfan-go/fanctl/pkg/commander"
	"github.com/superfan-go/fanctl/pkg/control"
	"github.com/superfan-go/fanctl/pkg/fanconfig"
	"github.com/superfan-go/fanctl/pkg/nvmetransport"
	"github.com/superfan-go/fanctl/pkg/safety"
	"github.com/superfan-go/fanctl/pkg/sensorparser"
	"github.com/superfan-go/fanctl/pkg/sensorstore"
	"github.com/superfan-go/fanctl/pkg/zone"
)

func main() {
	configPath := flag.String("config", "/etc/fanctld/config.yaml", "path to the YAML configuration contract")
	observeOnly := flag.Bool("observe-only", false, "evaluate curves and log intended commands without dispatching them")
	permitOff := flag.Bool("permit-off", false, "allow commanding fan speed down to 0%")
	flag.Parse()

	logger := fanctllog.Default()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	transport := bmctransport.NewShellTransport(
		bmctransport.WithRemote(cfg.IPMI.Host, cfg.IPMI.Username, cfg.IPMI.Password, cfg.IPMI.Interface),
		bmctransport.WithLogger(logger),
	)
	detector := &boardprofile.ShellDetector{
		RunIPMI: func(ctx context.Context, command string) (string, error) {
			return transport.Execute(ctx, command)
		},
	}

	cmdr := commander.New(commander.Config{
		Transport:      transport,
		Detector:       detector,
		PermitOff:      *permitOff,
		MinWorkingFans: cfg.Safety.MinWorkingFans,
		Logger:         logger,
	})
	if err := cmdr.Open(ctx); err != nil {
		logger.Error("board detection failed", "error", err)
		os.Exit(1)
	}

	nvme := nvmetransport.NewShellTransport()
	reader, err := sensorstore.New(sensorstore.Config{
		ReadingTimeout: cfg.WatchdogTimeout(),
		MinReadings:    cfg.Safety.MinTempReadings,
		FetchIPMI: func(ctx context.Context) ([]sensorstore.Reading, error) {
			return cmdr.GetSensorReadings(ctx)
		},
		FetchNVMe: func(ctx context.Context) ([]sensorstore.Reading, error) {
			return fetchNVMeReadings(ctx, nvme)
		},
	})
	if err != nil {
		logger.Error("failed to build sensor reader", "error", err)
		os.Exit(1)
	}

	zones, err := cfg.BuildZones(cmdr.Profile())
	if err != nil {
		logger.Error("failed to build zones from configuration", "error", err)
		os.Exit(1)
	}

	monitor := safety.New(safety.Config{
		Commander:        cmdr,
		Reader:           reader,
		Zones:            zones,
		WatchdogTimeout:  cfg.WatchdogTimeout(),
		TolerancePercent: 10,
		LastCommanded:    func() int { return maxLastCommanded(cmdr, zones) },
		Logger:           logger,
	})

	opts := []control.Option{control.WithLogger(logger)}
	if *observeOnly {
		opts = append(opts, control.WithObserveOnly())
	}

	loop, err := control.New(control.Config{
		Commander: cmdr,
		Reader:    reader,
		Monitor:   monitor,
		Zones:     zones,
		Params: control.Params{
			PollingInterval: cfg.PollingInterval(),
			MonitorInterval: cfg.MonitorInterval(),
			RampStep:        cfg.Fans.RampStep,
			RestoreOnExit:   cfg.Safety.RestoreOnExit,
		},
		Logger: logger,
	}, opts...)
	if err != nil {
		logger.Error("failed to build control loop", "error", err)
		os.Exit(1)
	}

	if err := loop.Start(ctx); err != nil {
		logger.Error("failed to start control loop", "error", err)
		os.Exit(1)
	}
	logger.Info("fanctld started", "board", cmdr.Profile().Generation.String())

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := loop.Stop(stopCtx); err != nil {
		logger.Error("control loop stop reported error", "error", err)
	}
	logger.Info("fanctld stopped")
}

func loadConfig(path string) (*fanconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := fanconfig.Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func fetchNVMeReadings(ctx context.Context, t nvmetransport.Transport) ([]sensorstore.Reading, error) {
	devices, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []sensorstore.Reading
	for _, dev := range devices {
		text, err := t.SmartLog(ctx, dev)
		if err != nil {
			continue
		}
		if r, ok := sensorparser.ParseSmartLog(text, dev, now); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func maxLastCommanded(cmdr *commander.Commander, zones []zone.Zone) int {
	max := 0
	for _, z := range zones {
		bz := boardprofile.Chassis
		if z.Name == "cpu" {
			bz = boardprofile.CPU
		}
		if v, ok := cmdr.LastCommanded(bz); ok && v > max {
			max = v
		}
	}
	return max
}
