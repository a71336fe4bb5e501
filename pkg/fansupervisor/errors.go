// SPDX-License-Identifier: BSD-3-Clause

package fansupervisor

import "errors"

var (
	// ErrWorkerPanic indicates a supervised worker panicked during execution.
	ErrWorkerPanic = errors.New("fansupervisor: worker panicked during execution")
	// ErrInvalidWorker indicates a nil Worker was supplied.
	ErrInvalidWorker = errors.New("fansupervisor: invalid worker")
	// ErrAlreadyRunning indicates Start was called on an already-running Supervisor.
	ErrAlreadyRunning = errors.New("fansupervisor: already running")
	// ErrNotRunning indicates Stop was called on a Supervisor that was never started.
	ErrNotRunning = errors.New("fansupervisor: not running")
)
