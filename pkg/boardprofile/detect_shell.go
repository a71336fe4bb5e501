// SPDX-License-Identifier: BSD-3-Clause

package boardprofile

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ShellDetector implements Detector by shelling to dmidecode for the DMI
// baseboard probe and delegating "mc info" to an injected BMC command
// runner (typically the same transport Commander uses).
type ShellDetector struct {
	// RunIPMI executes a non-raw IPMI command (e.g. "mc info") and returns
	// its stdout. cmd/fanctld wires the BmcTransport's Execute here.
	RunIPMI func(ctx context.Context, command string) (string, error)
	// DmidecodePath overrides the dmidecode binary path.
	DmidecodePath string
	// UseSudo prepends sudo to the dmidecode invocation, for deployments
	// where the daemon itself does not run as root.
	UseSudo bool
	Timeout time.Duration
}

// DMIBaseboard runs dmidecode -t baseboard and returns its output.
func (d *ShellDetector) DMIBaseboard(ctx context.Context) (string, error) {
	path := d.DmidecodePath
	if path == "" {
		path = "dmidecode"
	}
	args := []string{"-t", "baseboard"}
	name := path
	if d.UseSudo {
		args = append([]string{path}, args...)
		name = "sudo"
	}

	runCtx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("dmidecode: %w", err)
	}
	return out.String(), nil
}

// McInfo delegates to RunIPMI("mc info").
func (d *ShellDetector) McInfo(ctx context.Context) (string, error) {
	if d.RunIPMI == nil {
		return "", fmt.Errorf("mc info: no ipmi runner configured")
	}
	return d.RunIPMI(ctx, "mc info")
}

// FirmwareRevisionMajor parses the "Firmware Revision" line from "mc info"
// and returns the major component (the integer before the first dot).
func (d *ShellDetector) FirmwareRevisionMajor(ctx context.Context) (int, error) {
	info, err := d.McInfo(ctx)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(info, "\n") {
		if !strings.Contains(strings.ToLower(line), "firmware revision") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		ver := strings.TrimSpace(parts[1])
		major := strings.SplitN(ver, ".", 2)[0]
		n, err := strconv.Atoi(strings.TrimSpace(major))
		if err != nil {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("firmware revision not found in mc info output")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
