package fixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rancher/autofix/internal/branch"
	"github.com/rancher/autofix/internal/git"
)

// DefaultRollbackTimeout bounds a rollback when the caller's context has
// already been cancelled.
const DefaultRollbackTimeout = time.Minute

// Rollback drives a working copy back to a named, non-automation branch
// after a failed operation. Every step is attempted in order regardless of
// earlier failures.
type Rollback struct {
	guard      *Guard
	automation branch.Automation
	timeout    time.Duration
	log        *slog.Logger
}

// NewRollback returns a Rollback. A non-positive timeout selects
// DefaultRollbackTimeout.
func NewRollback(guard *Guard, automation branch.Automation, timeout time.Duration, logger *slog.Logger) *Rollback {
	if timeout <= 0 {
		timeout = DefaultRollbackTimeout
	}
	return &Rollback{guard: guard, automation: automation, timeout: timeout, log: logger}
}

type rollbackRun struct {
	ws       git.Workspace
	original branch.Name
	target   branch.Name
	restored branch.Name
	failures []StepFailure
}

func (r *rollbackRun) fail(step RollbackStep, err error) {
	r.failures = append(r.failures, StepFailure{Step: step, Err: err})
}

type rollbackState struct {
	step RollbackStep
	run  func(context.Context, *rollbackRun) error
}

func (r *Rollback) states() []rollbackState {
	return []rollbackState{
		{StepDetermineRestoreTarget, r.determineRestoreTarget},
		{StepEnsureRestoreTarget, r.ensureRestoreTargetExists},
		{StepCheckout, r.checkout},
		{StepDiscardLocalChanges, r.discardLocalChanges},
		{StepCleanupAutomationBranch, r.cleanupAutomationBranch},
	}
}

// Run restores ws. original is the branch captured before the failed
// operation and may be empty. It returns nil when every step succeeded and a
// diagnostic otherwise; it never fails in place of the triggering error.
func (r *Rollback) Run(ctx context.Context, ws git.Workspace, original branch.Name) *RollbackPartialFailure {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	run := &rollbackRun{ws: ws, original: original}
	for _, state := range r.states() {
		if err := r.safely(ctx, state, run); err != nil {
			run.fail(state.step, err)
			if r.log != nil {
				r.log.Debug("rollback step failed", "step", state.step, "error", err)
			}
		}
	}

	if len(run.failures) == 0 {
		if r.log != nil {
			r.log.Info("rollback completed", "restored", run.restored)
		}
		return nil
	}
	return &RollbackPartialFailure{Restored: run.restored, Failures: run.failures}
}

func (r *Rollback) safely(ctx context.Context, state rollbackState, run *rollbackRun) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return state.run(ctx, run)
}

func (r *Rollback) determineRestoreTarget(ctx context.Context, run *rollbackRun) error {
	if r.automation.Safe(run.original) {
		run.target = run.original
		return nil
	}

	target, err := r.guard.ResolveDefault(ctx, run.ws)
	if err != nil {
		run.target = r.guard.Fallback()
		return err
	}
	run.target = target
	return nil
}

func (r *Rollback) ensureRestoreTargetExists(ctx context.Context, run *rollbackRun) error {
	exists, err := hasLocalBranch(ctx, run.ws, run.target)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	start, err := startPoint(ctx, run.ws, run.target)
	if err != nil {
		start = ""
	}
	createErr := run.ws.CreateBranch(ctx, run.target.String(), start)
	if createErr == nil {
		return nil
	}

	// Settle for any existing non-automation branch.
	if raw, err := run.ws.LocalBranches(ctx); err == nil {
		if safe := r.automation.Filter(branch.FromStrings(raw)); len(safe) > 0 {
			run.target = safe[0]
		}
	}
	return &CheckoutError{Branch: run.target, Err: createErr}
}

func (r *Rollback) checkout(ctx context.Context, run *rollbackRun) error {
	primaryErr := run.ws.Checkout(ctx, run.target.String(), false)
	if primaryErr == nil {
		run.restored = run.target
		return nil
	}

	errs := []error{&CheckoutError{Branch: run.target, Err: primaryErr}}

	raw, err := run.ws.LocalBranches(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, candidate := range r.automation.Filter(branch.FromStrings(raw)) {
		if err := run.ws.Checkout(ctx, candidate.String(), true); err != nil {
			errs = append(errs, &CheckoutError{Branch: candidate, Err: err})
			continue
		}
		run.restored = candidate
		return errors.Join(errs...)
	}

	// Nothing to check out: create the target where HEAD is so the working
	// copy ends attached to a safe branch. An existing target is never reset,
	// since HEAD may be the automation commit.
	exists, err := hasLocalBranch(ctx, run.ws, run.target)
	if err != nil {
		errs = append(errs, err)
		return errors.Join(errs...)
	}
	if exists {
		errs = append(errs, fmt.Errorf("%s exists locally and could not be checked out; leaving it untouched", run.target))
		return errors.Join(errs...)
	}
	if err := run.ws.ForceCheckoutNew(ctx, run.target.String()); err != nil {
		errs = append(errs, &CheckoutError{Branch: run.target, Err: err})
		return errors.Join(errs...)
	}
	run.restored = run.target
	return errors.Join(errs...)
}

func (r *Rollback) discardLocalChanges(ctx context.Context, run *rollbackRun) error {
	return run.ws.ResetHard(ctx)
}

func (r *Rollback) cleanupAutomationBranch(ctx context.Context, run *rollbackRun) error {
	name := r.automation.Name()

	exists, err := hasLocalBranch(ctx, run.ws, name)
	if err != nil || !exists {
		return err
	}

	head, err := run.ws.Head(ctx)
	if err != nil {
		return err
	}
	if !head.Detached && r.automation.IsAutomation(branch.Name(head.Branch)) {
		return fmt.Errorf("automation branch %s is still checked out", name)
	}
	return run.ws.DeleteBranch(ctx, name.String())
}
