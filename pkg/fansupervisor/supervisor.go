// SPDX-License-Identifier: BSD-3-Clause

// Package fansupervisor wraps the control-loop worker goroutine in a
// cirello.io/oversight/v2 supervision tree for panic recovery and
// automatic restart.
package fansupervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cirello.io/oversight/v2"

	"github.com/superfan-go/fanctl/internal/fanctllog"
)

// Worker is anything a Supervisor can keep alive. Run should block until
// ctx is canceled or a fatal error occurs.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// newChildProcess adapts a Worker into an oversight.ChildProcess that
// converts panics into errors the tree can restart on.
func newChildProcess(w Worker) oversight.ChildProcess {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s: %v", ErrWorkerPanic, w.Name(), r)
			}
		}()
		return w.Run(ctx)
	}
}

// Supervisor runs a single Worker under an oversight tree, restarting it on
// unexpected failure.
type Supervisor struct {
	worker  Worker
	timeout time.Duration
	logger  *slog.Logger

	tree    *oversight.Tree
	done    chan error
	cancel  context.CancelFunc
	running bool
}

// Config parameterizes Supervisor construction.
type Config struct {
	Worker  Worker
	Timeout time.Duration
	Logger  *slog.Logger
}

// New builds a Supervisor for worker. Timeout defaults to 30s and bounds
// how long the worker may take to react to cancellation before oversight
// considers it hung.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Worker == nil {
		return nil, ErrInvalidWorker
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Supervisor{
		worker:  cfg.Worker,
		timeout: timeout,
		logger:  fanctllog.OrDefault(cfg.Logger),
	}, nil
}

// Start launches the worker under supervision. It returns once the
// supervision tree has been started; restarts happen in the background
// until Stop is called or ctx is canceled.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.tree = oversight.New(
		oversight.NeverHalt(),
		oversight.DefaultRestartStrategy(),
	)

	if err := s.tree.Add(
		newChildProcess(s.worker),
		oversight.Transient(),
		oversight.Timeout(s.timeout),
		s.worker.Name(),
	); err != nil {
		cancel()
		return fmt.Errorf("fansupervisor: add %s to tree: %w", s.worker.Name(), err)
	}

	s.done = make(chan error, 1)
	go func() {
		s.done <- s.tree.Start(runCtx)
	}()

	s.running = true
	s.logger.Info("worker supervision started", "worker", s.worker.Name())
	return nil
}

// Stop cancels the worker and waits for the supervision tree to exit, or
// for ctx to expire first.
func (s *Supervisor) Stop(ctx context.Context) error {
	if !s.running {
		return ErrNotRunning
	}
	s.cancel()

	select {
	case err := <-s.done:
		s.running = false
		if err != nil && err != context.Canceled {
			s.logger.Warn("worker supervision exited with error", "worker", s.worker.Name(), "error", err)
			return err
		}
		s.logger.Info("worker supervision stopped", "worker", s.worker.Name())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
