package fixer

import (
	"context"
	"log/slog"

	"github.com/rancher/autofix/internal/branch"
	"github.com/rancher/autofix/internal/git"
)

// Publisher force-pushes the automation branch and returns the working copy
// to the captured original branch.
type Publisher struct {
	log *slog.Logger
}

// NewPublisher returns a Publisher.
func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{log: logger}
}

// Publish overwrites the remote copy of name. The credential, when given, is
// used for this push only.
func (p *Publisher) Publish(ctx context.Context, ws git.Workspace, name branch.Name, cred git.Credential) error {
	if p.log != nil {
		p.log.Info("pushing branch", "branch", name, "remote", ws.RemoteName(), "credential", cred)
	}
	if err := ws.Push(ctx, name.String(), cred); err != nil {
		if git.IsAuthFailure(err) {
			return &PushAuthError{Branch: name, Err: err}
		}
		return &RemoteSyncError{Op: "push", Err: err}
	}
	return nil
}

// Restore checks out original after a successful publish.
func (p *Publisher) Restore(ctx context.Context, ws git.Workspace, original branch.Name) error {
	if err := ws.Checkout(ctx, original.String(), false); err != nil {
		return &CheckoutError{Branch: original, Err: err}
	}
	return nil
}
