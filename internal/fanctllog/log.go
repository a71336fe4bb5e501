// SPDX-License-Identifier: BSD-3-Clause

// Package fanctllog provides the structured logging facade shared by every
// package in this module. It fans log records out to zerolog for console
// output and to the global OpenTelemetry log provider, so a deployment that
// wires up a collector gets export for free without any code changes here.
package fanctllog

import (
	"log/slog"

	"github.com/rs/zerolog"
	slogmulti "github.com/samber/slog-multi"
	slogzerolog "github.com/samber/slog-zerolog/v2"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
)

// New builds the default logger for the daemon: zerolog console output at
// debug level, fanned out to an OTel bridge handler.
func New() *slog.Logger {
	zeroLogger := zerolog.
		New(zerolog.NewConsoleWriter()).
		With().
		Timestamp().
		Logger()

	provider := global.GetLoggerProvider()
	otelHandler := otelslog.NewHandler("fanctld", otelslog.WithLoggerProvider(provider))

	return slog.New(slogmulti.Fanout(
		slogzerolog.Option{Level: slog.LevelDebug, Logger: &zeroLogger}.NewZerologHandler(),
		otelHandler,
	))
}

var global_ = New()

// Default returns the package-level logger. Components that are not given
// an explicit logger at construction time fall back to this one.
func Default() *slog.Logger {
	return global_
}

// OrDefault returns l if non-nil, otherwise the package default. Every
// constructor in this module that accepts a *slog.Logger uses this to avoid
// a nil-logger panic while still letting callers opt out of injecting one.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Default()
	}
	return l
}
