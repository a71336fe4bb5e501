// SPDX-License-Identifier: BSD-3-Clause

// Package nvmetransport abstracts enumeration of NVMe namespace devices and
// retrieval of their SMART logs. ShellTransport shells out to nvme-cli;
// IoctlTransport talks to the kernel directly via NVMe admin passthrough.
// Both satisfy the same Transport interface so callers and tests are
// indifferent to which backs them.
package nvmetransport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/superfan-go/fanctl/internal/fanctllog"
)

// Transport enumerates NVMe devices and retrieves their SMART logs.
type Transport interface {
	List(ctx context.Context) ([]string, error)
	SmartLog(ctx context.Context, path string) (string, error)
}

var namespaceDevicePattern = regexp.MustCompile(`^/dev/nvme\d+n\d+$`)

// IsNamespaceDevicePath reports whether path looks like an NVMe namespace
// block device, e.g. /dev/nvme0n1.
func IsNamespaceDevicePath(path string) bool {
	return namespaceDevicePattern.MatchString(path)
}

// ShellTransport invokes the nvme-cli tool as a subprocess.
type ShellTransport struct {
	path    string
	glob    string
	timeout time.Duration
	logger  *slog.Logger
}

// ShellOption configures a ShellTransport.
type ShellOption interface{ apply(*ShellTransport) }

type shellOptionFunc func(*ShellTransport)

func (f shellOptionFunc) apply(t *ShellTransport) { f(t) }

// WithNvmeCliPath overrides the nvme binary path (default "nvme").
func WithNvmeCliPath(path string) ShellOption {
	return shellOptionFunc(func(t *ShellTransport) { t.path = path })
}

// WithDeviceGlob overrides the glob used to enumerate namespace devices
// (default "/dev/nvme*n*").
func WithDeviceGlob(glob string) ShellOption {
	return shellOptionFunc(func(t *ShellTransport) { t.glob = glob })
}

// WithShellTimeout bounds a single nvme-cli invocation.
func WithShellTimeout(d time.Duration) ShellOption {
	return shellOptionFunc(func(t *ShellTransport) { t.timeout = d })
}

// WithShellLogger injects a structured logger.
func WithShellLogger(l *slog.Logger) ShellOption {
	return shellOptionFunc(func(t *ShellTransport) { t.logger = l })
}

// NewShellTransport builds an nvme-cli-backed Transport.
func NewShellTransport(opts ...ShellOption) *ShellTransport {
	t := &ShellTransport{
		path:    "nvme",
		glob:    "/dev/nvme*n*",
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o.apply(t)
	}
	t.logger = fanctllog.OrDefault(t.logger)
	return t
}

// List enumerates namespace block devices matching the configured glob.
func (t *ShellTransport) List(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(t.glob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevices, err)
	}
	devices := make([]string, 0, len(matches))
	for _, m := range matches {
		if IsNamespaceDevicePath(m) {
			devices = append(devices, m)
		}
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

// SmartLog runs "nvme smart-log <path>" and returns its raw text output.
func (t *ShellTransport) SmartLog(ctx context.Context, path string) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, t.path, "smart-log", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debug("reading nvme smart log", "device", path)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s: %v: %s", ErrSmartLog, path, err, stderr.String())
	}
	return stdout.String(), nil
}
