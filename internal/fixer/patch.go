package fixer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rancher/autofix/internal/branch"
	"github.com/rancher/autofix/internal/git"
)

// DefaultCommitMessage marks commits created by the automation.
const DefaultCommitMessage = "🤖 Auto-fix applied by AI DevOps Assistant"

// Applier moves a working copy onto a fresh automation branch and records
// the fixed file there.
type Applier struct {
	automation branch.Automation
	message    string
	log        *slog.Logger
}

// NewApplier returns an Applier committing with message, or
// DefaultCommitMessage when message is empty.
func NewApplier(automation branch.Automation, message string, logger *slog.Logger) *Applier {
	if message == "" {
		message = DefaultCommitMessage
	}
	return &Applier{automation: automation, message: message, log: logger}
}

// EnsureCheckedOut switches to target unless HEAD is already attached to it.
// A target missing locally is created from its remote tracking branch, or
// from HEAD when the remote does not have it either.
func (a *Applier) EnsureCheckedOut(ctx context.Context, ws git.Workspace, target branch.Name) error {
	head, err := ws.Head(ctx)
	if err != nil {
		return &CheckoutError{Branch: target, Err: err}
	}
	if !head.Detached && branch.Name(head.Branch) == target {
		return nil
	}

	exists, err := hasLocalBranch(ctx, ws, target)
	if err != nil {
		return &CheckoutError{Branch: target, Err: err}
	}
	if exists {
		if err := ws.Checkout(ctx, target.String(), false); err != nil {
			return &CheckoutError{Branch: target, Err: err}
		}
		return nil
	}

	start, err := startPoint(ctx, ws, target)
	if err != nil {
		return &CheckoutError{Branch: target, Err: err}
	}
	if a.log != nil {
		a.log.Info("creating missing branch", "branch", target, "start_point", start)
	}
	if err := ws.CheckoutNew(ctx, target.String(), start); err != nil {
		return &CheckoutError{Branch: target, Err: err}
	}
	return nil
}

// IsolateBranch replaces any stale automation branch with a fresh one cut
// from HEAD and checks it out. HEAD must not be on the automation branch.
func (a *Applier) IsolateBranch(ctx context.Context, ws git.Workspace) error {
	name := a.automation.Name()

	head, err := ws.Head(ctx)
	if err != nil {
		return &CheckoutError{Branch: name, Err: err}
	}
	if !head.Detached && a.automation.IsAutomation(branch.Name(head.Branch)) {
		return &CheckoutError{Branch: name, Err: fmt.Errorf("refusing to delete the checked-out automation branch")}
	}

	exists, err := hasLocalBranch(ctx, ws, name)
	if err != nil {
		return &CheckoutError{Branch: name, Err: err}
	}
	if exists {
		if err := ws.DeleteBranch(ctx, name.String()); err != nil {
			return &CheckoutError{Branch: name, Err: err}
		}
	}

	if err := ws.CheckoutNew(ctx, name.String(), ""); err != nil {
		return &CheckoutError{Branch: name, Err: err}
	}
	return nil
}

// WriteAndStage overwrites relPath with content and stages exactly that path.
func (a *Applier) WriteAndStage(ctx context.Context, ws git.Workspace, relPath string, content []byte) error {
	if err := ws.WriteFile(relPath, content); err != nil {
		return &PatchError{Path: relPath, Err: err}
	}
	if err := ws.Stage(ctx, relPath); err != nil {
		return &PatchError{Path: relPath, Err: err}
	}
	return nil
}

// Commit records the staged change with the automation message.
func (a *Applier) Commit(ctx context.Context, ws git.Workspace) (string, error) {
	id, err := ws.Commit(ctx, a.message)
	if err != nil {
		return "", &CommitError{Err: err}
	}
	return id, nil
}

func hasLocalBranch(ctx context.Context, ws git.Workspace, name branch.Name) (bool, error) {
	raw, err := ws.LocalBranches(ctx)
	if err != nil {
		return false, err
	}
	return branch.NewSet(branch.FromStrings(raw)).Has(name), nil
}

// startPoint returns <remote>/<name> when the remote tracks name, else ""
// meaning the current HEAD.
func startPoint(ctx context.Context, ws git.Workspace, name branch.Name) (string, error) {
	tracked, err := ws.HasRemoteBranch(ctx, name.String())
	if err != nil {
		return "", err
	}
	if tracked {
		return fmt.Sprintf("%s/%s", ws.RemoteName(), name), nil
	}
	return "", nil
}
