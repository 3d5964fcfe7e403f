package fixer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rancher/autofix/internal/branch"
	"github.com/rancher/autofix/internal/git"
)

var (
	defaultCandidates = []branch.Name{"main", "master", "develop", "dev"}
	safetyCandidates  = []branch.Name{"main", "master", "develop"}
	materializable    = []branch.Name{"main", "master"}
)

// Guard decides which branch a working copy should return to. It never
// answers with the automation branch.
type Guard struct {
	automation branch.Automation
	log        *slog.Logger
}

// NewGuard returns a Guard for the given automation branch.
func NewGuard(automation branch.Automation, logger *slog.Logger) *Guard {
	return &Guard{automation: automation, log: logger}
}

// Fallback is the literal branch name used when nothing better exists
// locally. The caller must be prepared to create it.
func (g *Guard) Fallback() branch.Name {
	if g.automation.IsAutomation("main") {
		return "master"
	}
	return "main"
}

// ResolveDefault picks the branch to restore to: the remote's default branch
// when present locally, then the first well-known candidate, then the first
// local branch, then Fallback.
func (g *Guard) ResolveDefault(ctx context.Context, ws git.Workspace) (branch.Name, error) {
	raw, err := ws.LocalBranches(ctx)
	if err != nil {
		return "", &BranchResolutionError{Err: err}
	}

	remoteDefault, err := ws.RemoteDefaultBranch(ctx)
	if err != nil {
		if g.log != nil {
			g.log.Debug("remote default branch unavailable", "error", err)
		}
		remoteDefault = ""
	}

	return g.pick(branch.Name(remoteDefault), branch.FromStrings(raw)), nil
}

func (g *Guard) pick(remoteDefault branch.Name, locals []branch.Name) branch.Name {
	set := branch.NewSet(locals)

	if g.automation.Safe(remoteDefault) && set.Has(remoteDefault) {
		return remoteDefault
	}

	for _, candidate := range defaultCandidates {
		if g.automation.Safe(candidate) && set.Has(candidate) {
			return candidate
		}
	}

	if safe := g.automation.Filter(locals); len(safe) > 0 {
		return safe[0]
	}

	return g.Fallback()
}

// Capture records the branch the working copy must end on. A detached HEAD,
// an unborn branch, or a HEAD left on the automation branch by an earlier
// aborted run resolves to the default branch instead.
func (g *Guard) Capture(ctx context.Context, ws git.Workspace) (branch.Name, error) {
	head, err := ws.Head(ctx)
	if err != nil {
		return "", &BranchResolutionError{Err: err}
	}

	current := branch.Name(head.Branch)
	unborn := !head.Detached && head.Commit == ""

	var original branch.Name
	switch {
	case head.Detached:
		original, err = g.ResolveDefault(ctx, ws)
	case unborn:
		// A clone whose remote HEAD names a missing ref. Only a branch that
		// exists locally can be restored later.
		if g.log != nil {
			g.log.Info("working copy is on an unborn branch", "branch", current)
		}
		original, err = g.ResolveDefault(ctx, ws)
		if err == nil {
			exists, lookupErr := hasLocalBranch(ctx, ws, original)
			if lookupErr != nil {
				return "", &BranchResolutionError{Err: lookupErr}
			}
			if !exists {
				return g.recheck(ctx, ws)
			}
		}
	case g.automation.IsAutomation(current):
		if g.log != nil {
			g.log.Info("working copy left on automation branch by a previous run", "branch", current)
		}
		original, err = g.ResolveDefault(ctx, ws)
	default:
		original = current
	}
	if err != nil {
		return "", err
	}

	if g.automation.Safe(original) {
		return original, nil
	}
	return g.recheck(ctx, ws)
}

// recheck is the last line of defence when resolution still produced the
// automation branch. It may create main or master.
func (g *Guard) recheck(ctx context.Context, ws git.Workspace) (branch.Name, error) {
	raw, err := ws.LocalBranches(ctx)
	if err != nil {
		return "", &BranchResolutionError{Err: err}
	}
	locals := branch.FromStrings(raw)
	set := branch.NewSet(locals)

	for _, candidate := range safetyCandidates {
		if g.automation.Safe(candidate) && set.Has(candidate) {
			return candidate, nil
		}
	}

	if created, err := g.materialize(ctx, ws); err == nil {
		return created, nil
	} else if g.log != nil {
		g.log.Warn("could not create a default branch", "error", err)
	}

	if safe := g.automation.Filter(locals); len(safe) > 0 {
		return safe[0], nil
	}

	return "", &BranchResolutionError{Err: ErrNoValidBranch}
}

func (g *Guard) materialize(ctx context.Context, ws git.Workspace) (branch.Name, error) {
	for _, candidate := range materializable {
		if !g.automation.Safe(candidate) {
			continue
		}
		tracked, err := ws.HasRemoteBranch(ctx, candidate.String())
		if err != nil || !tracked {
			continue
		}
		start := fmt.Sprintf("%s/%s", ws.RemoteName(), candidate)
		if err := ws.CreateBranch(ctx, candidate.String(), start); err != nil {
			return "", &CheckoutError{Branch: candidate, Err: err}
		}
		return candidate, nil
	}

	fallback := g.Fallback()
	if err := ws.CreateBranch(ctx, fallback.String(), ""); err != nil {
		return "", &CheckoutError{Branch: fallback, Err: err}
	}
	return fallback, nil
}
