package fixer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rancher/autofix/internal/branch"
)

// ErrNoValidBranch is returned when no non-automation branch exists and none
// could be created.
var ErrNoValidBranch = errors.New("no valid branch found and unable to create one")

// RemoteSyncError reports a clone, pull, or push transport failure.
type RemoteSyncError struct {
	Op  string
	Err error
}

func (e *RemoteSyncError) Error() string {
	return fmt.Sprintf("remote sync (%s): %v", e.Op, e.Err)
}

func (e *RemoteSyncError) Unwrap() error {
	return e.Err
}

// BranchResolutionError reports that no safe branch could be determined.
type BranchResolutionError struct {
	Err error
}

func (e *BranchResolutionError) Error() string {
	return fmt.Sprintf("resolve branch: %v", e.Err)
}

func (e *BranchResolutionError) Unwrap() error {
	return e.Err
}

// CheckoutError reports a failed branch switch, creation, or deletion.
type CheckoutError struct {
	Branch branch.Name
	Err    error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout %s: %v", e.Branch, e.Err)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// PatchError reports that the fixed content could not be written or staged.
type PatchError struct {
	Path string
	Err  error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("apply patch to %s: %v", e.Path, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

// CommitError reports a failed commit.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit: %v", e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// PushAuthError reports that the remote rejected the push credentials.
type PushAuthError struct {
	Branch branch.Name
	Err    error
}

func (e *PushAuthError) Error() string {
	return fmt.Sprintf("push %s: authentication failed: %v", e.Branch, e.Err)
}

func (e *PushAuthError) Unwrap() error {
	return e.Err
}

// RollbackStep names one state of the rollback machine.
type RollbackStep string

const (
	StepDetermineRestoreTarget  RollbackStep = "determine_restore_target"
	StepEnsureRestoreTarget     RollbackStep = "ensure_restore_target_exists"
	StepCheckout                RollbackStep = "checkout"
	StepDiscardLocalChanges     RollbackStep = "discard_local_changes"
	StepCleanupAutomationBranch RollbackStep = "cleanup_automation_branch"
)

// StepFailure records a rollback step that did not fully succeed.
type StepFailure struct {
	Step RollbackStep
	Err  error
}

// RollbackPartialFailure is the diagnostic produced when one or more rollback
// steps failed. It is logged alongside, never instead of, the error that
// triggered the rollback.
type RollbackPartialFailure struct {
	// Restored is the branch the working copy ended on, if any.
	Restored branch.Name
	Failures []StepFailure
}

func (e *RollbackPartialFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	return fmt.Sprintf("rollback partially failed (restored to %q): %s", e.Restored, strings.Join(parts, "; "))
}

// Unwrap exposes the individual step errors.
func (e *RollbackPartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Failed reports whether step is among the recorded failures.
func (e *RollbackPartialFailure) Failed(step RollbackStep) bool {
	for _, f := range e.Failures {
		if f.Step == step {
			return true
		}
	}
	return false
}
