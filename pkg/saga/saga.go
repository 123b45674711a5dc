// Package saga runs a fixed sequence of steps and undoes the completed ones,
// newest first, when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step represents a single step in a saga with an execute and compensate function.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports which step failed and whether undoing the earlier steps
// worked. errors.Is/As see the step's error.
type StepError struct {
	Saga            string
	Step            string
	Index           int
	Err             error
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Saga orchestrates a series of steps with automatic compensation on failure.
type Saga struct {
	name         string
	steps        []Step
	onCompensate func(step string, err error)
}

// New creates a new saga with the given name.
func New(name string) *Saga {
	return &Saga{name: name}
}

// AddStep adds a step to the saga.
func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// OnCompensate registers a hook called after every compensation attempt.
func (s *Saga) OnCompensate(fn func(step string, err error)) *Saga {
	s.onCompensate = fn
	return s
}

// Execute runs the steps in order. On failure it compensates the completed
// steps with a context that ignores the caller's cancellation, so a timed out
// request still releases what it reserved. The returned error is a *StepError.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:            s.name,
				Step:            step.Name,
				Index:           i,
				Err:             err,
				CompensationErr: s.compensate(context.WithoutCancel(ctx), i),
			}
		}
	}
	return nil
}

// compensate undoes steps [0, failed) in reverse order.
func (s *Saga) compensate(ctx context.Context, failed int) error {
	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		err := step.Compensate(ctx)
		if s.onCompensate != nil {
			s.onCompensate(step.Name, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
