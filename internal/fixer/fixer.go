package fixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rancher/autofix/internal/branch"
	"github.com/rancher/autofix/internal/git"
)

// Config captures the runtime controls the fixer needs.
type Config struct {
	Automation      branch.Automation
	CommitMessage   string
	RollbackTimeout time.Duration
	DryRun          bool
}

// Handle identifies a working copy obtained through Connect.
type Handle struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Result is the user-visible outcome of ApplyFix. Exactly one of Success or
// Error is meaningful.
type Result struct {
	OperationID    string `json:"operation_id"`
	Success        bool   `json:"success"`
	Branch         string `json:"branch,omitempty"`
	OriginalBranch string `json:"original_branch,omitempty"`
	Commit         string `json:"commit,omitempty"`
	Message        string `json:"message,omitempty"`
	PullRequestURL string `json:"pull_request_url,omitempty"`
	Error          string `json:"error,omitempty"`

	err      error
	rollback *RollbackPartialFailure
}

// Err returns the error behind a failed result.
func (r Result) Err() error {
	return r.err
}

// RollbackFailure returns the rollback diagnostic, if the rollback that
// followed a failure was incomplete.
func (r Result) RollbackFailure() *RollbackPartialFailure {
	return r.rollback
}

// Recorder observes operation outcomes.
type Recorder interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	ObserveRollback(outcome string)
}

// PullRequestOpener makes sure a pull request from head into base exists for
// the repository behind remoteURL and returns its URL.
type PullRequestOpener interface {
	EnsureFixPullRequest(ctx context.Context, remoteURL, head, base string) (string, error)
}

// Fixer applies fixes to working copies while keeping them on a named,
// non-automation branch whatever happens.
type Fixer struct {
	cfg       Config
	git       git.Executor
	guard     *Guard
	applier   *Applier
	publisher *Publisher
	rollback  *Rollback
	locks     *pathLocks
	prs       PullRequestOpener
	metrics   Recorder
	log       *slog.Logger
}

// New returns a configured Fixer. prs, recorder, and logger may be nil.
func New(cfg Config, executor git.Executor, prs PullRequestOpener, recorder Recorder, logger *slog.Logger) *Fixer {
	guard := NewGuard(cfg.Automation, logger)
	return &Fixer{
		cfg:       cfg,
		git:       executor,
		guard:     guard,
		applier:   NewApplier(cfg.Automation, cfg.CommitMessage, logger),
		publisher: NewPublisher(logger),
		rollback:  NewRollback(guard, cfg.Automation, cfg.RollbackTimeout, logger),
		locks:     newPathLocks(),
		prs:       prs,
		metrics:   recorder,
		log:       logger,
	}
}

// HandleFor returns the handle of a previously connected working copy
// without touching it.
func (f *Fixer) HandleFor(name string) (Handle, error) {
	path, err := f.git.LocalPath(name)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Name: name, Path: path}, nil
}

// Connect clones remoteURL into the working copy called name, or refreshes
// it when it already exists. An empty name is derived from the URL.
func (f *Fixer) Connect(ctx context.Context, remoteURL, name string, cred git.Credential) (Handle, error) {
	remote := git.NormalizeRemoteURL(remoteURL)
	if strings.TrimSpace(name) == "" {
		name = git.RepoNameFromURL(remote)
	}

	op := f.begin("connect", "repo", name, "remote", git.StripCredentials(remote))

	if remote == "" {
		return Handle{}, f.connectFailed(op, errors.New("remote url is required"))
	}

	path, err := f.git.LocalPath(name)
	if err != nil {
		return Handle{}, f.connectFailed(op, err)
	}

	release, err := f.locks.acquire(ctx, path)
	if err != nil {
		return Handle{}, f.connectFailed(op, err)
	}
	defer release()

	// An existing copy is rolled back if refreshing it fails midway.
	existing, original := f.inspectExisting(ctx, path)

	ws, err := f.git.Sync(ctx, git.SyncRequest{RemoteURL: remote, Name: name, Credential: cred})
	if err != nil {
		if existing != nil {
			f.rollbackAfter(ctx, op, existing, original, err)
		}
		return Handle{}, f.connectFailed(op, err)
	}

	op.log.Info("working copy ready", "path", ws.Path())
	f.finish(op, "success")
	return Handle{Name: name, Path: ws.Path()}, nil
}

func (f *Fixer) inspectExisting(ctx context.Context, path string) (git.Workspace, branch.Name) {
	ws, err := f.git.Open(ctx, path)
	if err != nil {
		return nil, ""
	}
	head, err := ws.Head(ctx)
	if err != nil || head.Detached {
		return ws, ""
	}
	return ws, branch.Name(head.Branch)
}

func (f *Fixer) connectFailed(op *operation, err error) error {
	syncErr := &RemoteSyncError{Op: "connect", Err: err}
	op.log.Error("connect failed", "error", syncErr)
	f.finish(op, "failure")
	return syncErr
}

// ApplyFixTo applies a fix to the working copy called name. A name that does
// not map to a working copy is reported as a failed Result like any other
// apply failure.
func (f *Fixer) ApplyFixTo(ctx context.Context, name, filePath, fixedCode string, cred git.Credential) Result {
	h, err := f.HandleFor(name)
	if err != nil {
		op := f.begin("apply_fix", "repo", name, "file", filePath)
		return f.applyFailed(op, Result{OperationID: op.id}, err)
	}
	return f.ApplyFix(ctx, h, filePath, fixedCode, cred)
}

// ApplyFix writes fixedCode to filePath on a fresh automation branch, commits
// it, force-pushes the branch, and returns the working copy to the branch it
// started on. Any failure rolls the working copy back to a safe branch and is
// reported in the Result, never as a Go error.
func (f *Fixer) ApplyFix(ctx context.Context, h Handle, filePath, fixedCode string, cred git.Credential) Result {
	op := f.begin("apply_fix", "repo", h.Name, "file", filePath)
	res := Result{OperationID: op.id}

	if strings.TrimSpace(h.Path) == "" {
		return f.applyFailed(op, res, errors.New("working copy handle has no path"))
	}

	release, err := f.locks.acquire(ctx, h.Path)
	if err != nil {
		return f.applyFailed(op, res, err)
	}
	defer release()

	ws, err := f.git.Open(ctx, h.Path)
	if err != nil {
		return f.applyFailed(op, res, err)
	}

	original, err := f.guard.Capture(ctx, ws)
	if err != nil {
		res.rollback = f.rollbackAfter(ctx, op, ws, "", err)
		return f.applyFailed(op, res, err)
	}
	res.OriginalBranch = original.String()
	op.log.Debug("captured original branch", "branch", original)

	commit, err := f.apply(ctx, ws, original, filePath, []byte(fixedCode), cred)
	if err != nil {
		res.rollback = f.rollbackAfter(ctx, op, ws, original, err)
		return f.applyFailed(op, res, err)
	}

	name := f.cfg.Automation.Name()
	res.Success = true
	res.Branch = name.String()
	res.Commit = commit
	res.Message = fmt.Sprintf("Fix pushed to branch %s", name)
	if f.cfg.DryRun {
		res.Message = fmt.Sprintf("Fix committed to branch %s (dry run, not pushed)", name)
	}

	res.PullRequestURL = f.ensurePullRequest(ctx, op, ws, original)

	op.log.Info("fix applied", "branch", name, "commit", commit, "original_branch", original)
	f.finish(op, "success")
	return res
}

func (f *Fixer) apply(ctx context.Context, ws git.Workspace, original branch.Name, filePath string, content []byte, cred git.Credential) (string, error) {
	name := f.cfg.Automation.Name()

	if err := checkpoint(ctx, "checkout"); err != nil {
		return "", err
	}
	if err := f.applier.EnsureCheckedOut(ctx, ws, original); err != nil {
		return "", err
	}

	if err := checkpoint(ctx, "isolate"); err != nil {
		return "", err
	}
	if err := f.applier.IsolateBranch(ctx, ws); err != nil {
		return "", err
	}

	if err := checkpoint(ctx, "write"); err != nil {
		return "", err
	}
	if err := f.applier.WriteAndStage(ctx, ws, filePath, content); err != nil {
		return "", err
	}

	if err := checkpoint(ctx, "commit"); err != nil {
		return "", err
	}
	commit, err := f.applier.Commit(ctx, ws)
	if err != nil {
		return "", err
	}

	if err := checkpoint(ctx, "push"); err != nil {
		return "", err
	}
	if err := f.publisher.Publish(ctx, ws, name, cred); err != nil {
		return "", err
	}

	if err := f.publisher.Restore(ctx, ws, original); err != nil {
		return "", err
	}
	return commit, nil
}

func checkpoint(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted before %s: %w", step, err)
	}
	return nil
}

func (f *Fixer) ensurePullRequest(ctx context.Context, op *operation, ws git.Workspace, original branch.Name) string {
	if f.prs == nil || f.cfg.DryRun {
		return ""
	}

	remoteURL, err := ws.RemoteURL(ctx)
	if err != nil {
		op.log.Warn("skipping pull request: remote url unavailable", "error", err)
		return ""
	}

	url, err := f.prs.EnsureFixPullRequest(ctx, git.StripCredentials(remoteURL), f.cfg.Automation.Name().String(), original.String())
	if err != nil {
		op.log.Warn("failed to ensure pull request", "error", err)
		return ""
	}
	return url
}

func (f *Fixer) rollbackAfter(ctx context.Context, op *operation, ws git.Workspace, original branch.Name, cause error) *RollbackPartialFailure {
	op.log.Info("rolling back working copy", "cause", cause, "original_branch", original)

	note := f.rollback.Run(ctx, ws, original)
	if note != nil {
		op.log.Warn("rollback incomplete", "error", note, "restored", note.Restored)
		f.observeRollback("partial")
		return note
	}
	f.observeRollback("clean")
	return nil
}

func (f *Fixer) applyFailed(op *operation, res Result, err error) Result {
	res.Success = false
	res.Error = git.RedactURLs(err.Error())
	res.err = err
	op.log.Error("apply fix failed", "error", res.Error)
	f.finish(op, "failure")
	return res
}

// ReadFile returns the content of filePath in the working copy. The boolean
// is false when the file does not exist.
func (f *Fixer) ReadFile(ctx context.Context, h Handle, filePath string) (string, bool, error) {
	op := f.begin("read_file", "repo", h.Name, "file", filePath)

	release, err := f.locks.acquire(ctx, h.Path)
	if err != nil {
		f.finish(op, "failure")
		return "", false, err
	}
	defer release()

	ws, err := f.git.Open(ctx, h.Path)
	if err != nil {
		f.finish(op, "failure")
		return "", false, err
	}

	data, ok, err := ws.ReadFile(filePath)
	if err != nil {
		f.finish(op, "failure")
		return "", false, err
	}
	if !ok {
		f.finish(op, "absent")
		return "", false, nil
	}
	f.finish(op, "success")
	return string(data), true, nil
}

type operation struct {
	id      string
	name    string
	started time.Time
	log     *slog.Logger
}

func (f *Fixer) begin(name string, attrs ...any) *operation {
	id := uuid.NewString()
	logger := f.log
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(append([]any{"operation", name, "operation_id", id}, attrs...)...)
	return &operation{id: id, name: name, started: time.Now(), log: logger}
}

func (f *Fixer) finish(op *operation, outcome string) {
	if f.metrics != nil {
		f.metrics.ObserveOperation(op.name, outcome, time.Since(op.started))
	}
}

func (f *Fixer) observeRollback(outcome string) {
	if f.metrics != nil {
		f.metrics.ObserveRollback(outcome)
	}
}
