// SPDX-License-Identifier: BSD-3-Clause

// Package bmctransport abstracts the mechanism by which a raw IPMI command
// string reaches the BMC, so tests can supply canned output in place of a
// live session. The package ships one production implementation,
// ShellTransport, which shells out to ipmitool.
package bmctransport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/superfan-go/fanctl/internal/fanctllog"
)

// Transport executes a raw IPMI command string and returns its stdout, or a
// typed transport error (ErrConnectionLost, ErrDeviceBusy, ErrCommandFailed).
type Transport interface {
	Execute(ctx context.Context, command string) (string, error)
}

// ShellTransport invokes ipmitool as a subprocess, either locally or against
// a remote BMC over lanplus.
type ShellTransport struct {
	path     string
	host     string
	username string
	password string
	iface    string
	local    bool
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a ShellTransport.
type Option interface {
	apply(*ShellTransport)
}

type optionFunc func(*ShellTransport)

func (f optionFunc) apply(t *ShellTransport) { f(t) }

// WithRemote configures the transport to dial a remote BMC over lanplus
// with the given host/username/password/interface. If not set, the
// transport invokes ipmitool locally with no credentials.
func WithRemote(host, username, password, iface string) Option {
	return optionFunc(func(t *ShellTransport) {
		t.local = false
		t.host = host
		t.username = username
		t.password = password
		t.iface = iface
	})
}

// WithIpmitoolPath overrides the ipmitool binary path (default "ipmitool",
// resolved via PATH).
func WithIpmitoolPath(path string) Option {
	return optionFunc(func(t *ShellTransport) { t.path = path })
}

// WithTimeout bounds how long a single ipmitool invocation may run.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(t *ShellTransport) { t.timeout = d })
}

// WithLogger injects a structured logger; nil keeps the package default.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(t *ShellTransport) { t.logger = l })
}

// NewShellTransport builds a local ipmitool-backed transport by default;
// apply WithRemote to target a remote BMC.
func NewShellTransport(opts ...Option) *ShellTransport {
	t := &ShellTransport{
		path:    "ipmitool",
		iface:   "lanplus",
		local:   true,
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o.apply(t)
	}
	t.logger = fanctllog.OrDefault(t.logger)
	return t
}

// Execute runs the given command string (e.g. "raw 0x30 0x45 0x00" or
// "sdr list") against the configured BMC and returns stdout.
func (t *ShellTransport) Execute(ctx context.Context, command string) (string, error) {
	args := t.baseArgs()
	args = append(args, strings.Fields(command)...)

	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, t.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debug("executing bmc command", "command", command, "remote", !t.local)
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	stderrText := stderr.String()
	switch {
	case strings.Contains(stderrText, "Device or resource busy"):
		return "", &Error{Kind: ErrDeviceBusy, Command: command, Detail: stderrText}
	case strings.Contains(stderrText, "Error in open session"), strings.Contains(stderrText, "Unable to establish"):
		return "", &Error{Kind: ErrConnectionLost, Command: command, Detail: stderrText}
	default:
		return "", &Error{Kind: ErrCommandFailed, Command: command, Detail: fmt.Sprintf("%v: %s", err, stderrText)}
	}
}

func (t *ShellTransport) baseArgs() []string {
	if t.local {
		return nil
	}
	return []string{
		"-I", t.iface,
		"-H", t.host,
		"-U", t.username,
		"-P", t.password,
	}
}
