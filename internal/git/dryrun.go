package git

import (
	"context"
	"log/slog"
)

// NewDryRunExecutor wraps an Executor so that every workspace it returns
// performs local operations normally but never publishes to the remote.
func NewDryRunExecutor(inner Executor, logger *slog.Logger) Executor {
	return &dryRunExecutor{inner: inner, logger: logger}
}

type dryRunExecutor struct {
	inner  Executor
	logger *slog.Logger
}

func (e *dryRunExecutor) Sync(ctx context.Context, req SyncRequest) (Workspace, error) {
	ws, err := e.inner.Sync(ctx, req)
	if err != nil {
		return nil, err
	}
	return DryRun(ws, e.logger), nil
}

func (e *dryRunExecutor) Open(ctx context.Context, path string) (Workspace, error) {
	ws, err := e.inner.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return DryRun(ws, e.logger), nil
}

func (e *dryRunExecutor) LocalPath(name string) (string, error) {
	return e.inner.LocalPath(name)
}

// DryRun returns ws with Push replaced by a log line.
func DryRun(ws Workspace, logger *slog.Logger) Workspace {
	if _, ok := ws.(*dryRunWorkspace); ok {
		return ws
	}
	return &dryRunWorkspace{Workspace: ws, logger: logger}
}

type dryRunWorkspace struct {
	Workspace
	logger *slog.Logger
}

func (w *dryRunWorkspace) Push(ctx context.Context, branch string, cred Credential) error {
	if w.logger != nil {
		w.logger.Info("dry-run: skipping push",
			"path", w.Path(),
			"remote", w.RemoteName(),
			"branch", branch,
			"credential", cred,
		)
	}
	return nil
}
