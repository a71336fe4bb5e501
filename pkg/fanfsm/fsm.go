// SPDX-License-Identifier: BSD-3-Clause

// Package fanfsm wraps github.com/qmuntal/stateless into the thread-safe
// state machine the control loop uses to drive its stopped/normal/
// emergency/stopping states. A control loop owns exactly one machine, so
// there is no multi-machine registry here.
package fanfsm

import (
	"context"
	"fmt"
	"sync"

	"github.com/qmuntal/stateless"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FSM is a thread-safe finite state machine with guarded and action-bearing
// transitions, traced via OpenTelemetry.
type FSM struct {
	config  *Config
	machine *stateless.StateMachine
	mu      sync.RWMutex
	tracer  trace.Tracer

	currentState string
}

// New builds an FSM from a validated Config.
func New(config *Config) (*FSM, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	f := &FSM{
		config:       config,
		currentState: config.InitialState,
		tracer:       otel.Tracer("fanfsm"),
	}
	f.machine = stateless.NewStateMachine(config.InitialState)

	grouped := make(map[string][]Transition)
	for _, t := range config.Transitions {
		grouped[t.From] = append(grouped[t.From], t)
	}
	for from, transitions := range grouped {
		cfg := f.machine.Configure(from)
		for _, t := range transitions {
			t := t
			if t.Guard != nil {
				cfg.PermitDynamic(t.Trigger, func(ctx context.Context, _ ...any) (any, error) {
					if t.Guard(ctx) {
						return t.To, nil
					}
					return nil, fmt.Errorf("%w: guard rejected %s", ErrTransitionDenied, t.Trigger)
				})
			} else {
				cfg.Permit(t.Trigger, t.To)
			}
			if t.Action != nil {
				f.machine.Configure(t.To).OnEntryFrom(t.Trigger, func(ctx context.Context, _ ...any) error {
					return t.Action(ctx, t.From, t.To)
				})
			}
		}
	}

	return f, nil
}

// Fire triggers a transition, blocking at most config.StateTimeout.
func (f *FSM) Fire(ctx context.Context, trigger string) error {
	f.mu.Lock()

	var span trace.Span
	ctx, span = f.tracer.Start(ctx, "fanfsm.Fire", trace.WithAttributes(
		attribute.String("fsm.name", f.config.Name),
		attribute.String("fsm.state", f.currentState),
		attribute.String("fsm.trigger", trigger),
	))
	defer span.End()

	if ok, err := f.machine.CanFire(trigger); err != nil || !ok {
		f.mu.Unlock()
		span.RecordError(ErrTransitionDenied)
		return fmt.Errorf("%w: trigger %s not valid in state %s", ErrTransitionDenied, trigger, f.currentState)
	}

	fireCtx, cancel := context.WithTimeout(ctx, f.config.StateTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.machine.FireCtx(fireCtx, trigger)
	}()

	select {
	case err := <-done:
		if err != nil {
			f.mu.Unlock()
			span.RecordError(err)
			return fmt.Errorf("%w: %w", ErrTransitionDenied, err)
		}
	case <-fireCtx.Done():
		f.mu.Unlock()
		if fireCtx.Err() == context.DeadlineExceeded {
			span.RecordError(ErrFireTimeout)
			return ErrFireTimeout
		}
		return fireCtx.Err()
	}

	state, err := f.machine.State(ctx)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("fanfsm: read state after fire: %w", err)
	}
	previous := f.currentState
	f.currentState = fmt.Sprintf("%v", state)
	span.SetAttributes(
		attribute.String("fsm.previous", previous),
		attribute.String("fsm.new", f.currentState),
	)
	f.mu.Unlock()
	return nil
}

// CurrentState returns the machine's current state.
func (f *FSM) CurrentState() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentState
}

// IsInState reports whether the machine is currently in state.
func (f *FSM) IsInState(state string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentState == state
}

// CanFire reports whether trigger is valid from the current state.
func (f *FSM) CanFire(trigger string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ok, err := f.machine.CanFire(trigger)
	return err == nil && ok
}

// PermittedTriggers lists triggers valid from the current state.
func (f *FSM) PermittedTriggers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	triggers, err := f.machine.PermittedTriggers()
	if err != nil {
		return nil
	}
	out := make([]string, len(triggers))
	for i, t := range triggers {
		out[i] = fmt.Sprintf("%v", t)
	}
	return out
}

// Name returns the machine's configured name.
func (f *FSM) Name() string {
	return f.config.Name
}

// ToGraph returns a DOT graph of the machine, useful for diagnostics.
func (f *FSM) ToGraph() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.machine.ToGraph()
}
