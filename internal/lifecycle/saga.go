package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/mvm/internal/model"
)

// step is one unit of a multi-step lifecycle operation. Every step that
// acquires a resource carries the compensation that returns it, so a failure
// partway through an operation can unwind everything the operation did.
type step struct {
	name string
	run  func(ctx context.Context) error
	// compensate undoes a completed run. Nil when there is nothing to undo.
	compensate func(ctx context.Context) error
}

// runSteps executes steps in order, tracking each through the task manager.
// When a step fails, the compensations of all completed steps run in reverse
// order; if any compensation itself fails, the returned error wraps
// ErrDegradedCleanup and the host may hold leaked resources.
func (m *manager) runSteps(ctx context.Context, vmID, operation string, steps []step) error {
	if m.tasks != nil {
		names := make([]string, 0, len(steps))
		for _, s := range steps {
			names = append(names, s.name)
		}
		if err := m.tasks.AddTasks(ctx, vmID, operation, names); err != nil {
			return fmt.Errorf("could not add operation steps: %w", err)
		}
	}

	var completed []step
	for _, s := range steps {
		if err := m.execStep(ctx, vmID, operation, s); err != nil {
			stepErr := fmt.Errorf("step %s failed: %w", s.name, err)

			if compErr := m.compensateSteps(ctx, vmID, completed); compErr != nil {
				return fmt.Errorf("%v (cleanup failed: %v): %w", stepErr, compErr, model.ErrDegradedCleanup)
			}
			return stepErr
		}
		completed = append(completed, s)
	}

	return nil
}

// compensateSteps runs the compensations of completed steps in reverse order.
// Compensations run on a context detached from cancellation: once an
// operation starts unwinding, a caller hanging up must not leave resources
// stranded halfway.
func (m *manager) compensateSteps(ctx context.Context, vmID string, completed []step) error {
	cctx := context.WithoutCancel(ctx)

	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		s := completed[i]
		if s.compensate == nil {
			continue
		}
		if err := s.compensate(cctx); err != nil {
			m.logger.Errorf("Compensation of step %s for vm %s failed: %v", s.name, vmID, err)
			errs = append(errs, fmt.Errorf("undo %s: %w", s.name, err))
		}
	}

	return errors.Join(errs...)
}

// execStep executes a single step, recording its outcome in the task manager
// when one is configured.
func (m *manager) execStep(ctx context.Context, vmID, operation string, s step) error {
	if m.tasks == nil {
		return s.run(ctx)
	}

	tsk, err := m.tasks.NextTask(ctx, vmID, operation)
	if err != nil {
		return fmt.Errorf("could not get next step: %w", err)
	}
	if tsk == nil {
		return fmt.Errorf("no pending step found for operation %s", operation)
	}
	if tsk.Name != s.name {
		return fmt.Errorf("expected step %s, got %s", s.name, tsk.Name)
	}

	err = s.run(ctx)
	if err != nil {
		if failErr := m.tasks.FailTask(ctx, tsk.ID, err); failErr != nil {
			m.logger.Errorf("Failed to mark step as failed: %v", failErr)
		}
		return err
	}

	if err := m.tasks.CompleteTask(ctx, tsk.ID); err != nil {
		return fmt.Errorf("could not mark step as completed: %w", err)
	}

	return nil
}
