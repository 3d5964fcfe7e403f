package fixer_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rancher/autofix/internal/git"
)

// fakeWorkspace is an in-memory working copy. Branches map to commit ids.
type fakeWorkspace struct {
	mu sync.Mutex

	head           git.HeadState
	branches       map[string]string
	remoteDefault  string
	remoteBranches map[string]string
	files          map[string][]byte
	staged         []string
	commitSeq      int
	pushed         []string
	calls          []string

	checkoutErr      map[string]error
	forceCheckoutErr map[string]error
	checkoutNewErr   error
	createErr        error
	forceNewErr      error
	deleteErr        error
	writeErr         error
	commitErr        error
	resetErr         error
	pushErr          error
	headErr          error

	pushStarted chan struct{}
	pushRelease chan struct{}

	sawCancelled bool
}

func newFakeWorkspace(current string, branches ...string) *fakeWorkspace {
	ws := &fakeWorkspace{
		branches:       map[string]string{},
		remoteBranches: map[string]string{},
		files:          map[string][]byte{},
	}
	for _, b := range branches {
		ws.branches[b] = "base"
	}
	ws.head = git.HeadState{Branch: current, Commit: "base"}
	return ws
}

func (w *fakeWorkspace) detach() *fakeWorkspace {
	w.head = git.HeadState{Commit: "base", Detached: true}
	return w
}

func (w *fakeWorkspace) record(ctx context.Context, format string, args ...any) {
	if ctx.Err() != nil {
		w.sawCancelled = true
	}
	w.calls = append(w.calls, fmt.Sprintf(format, args...))
}

func (w *fakeWorkspace) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func (w *fakeWorkspace) Head(ctx context.Context) (git.HeadState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.headErr != nil {
		return git.HeadState{}, w.headErr
	}
	return w.head, nil
}

func (w *fakeWorkspace) Path() string {
	return filepath.Join("/repos", "widgets")
}

func (w *fakeWorkspace) LocalBranches(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.branches))
	for b := range w.branches {
		names = append(names, b)
	}
	sort.Strings(names)
	return names, nil
}

func (w *fakeWorkspace) RemoteDefaultBranch(ctx context.Context) (string, error) {
	return w.remoteDefault, nil
}

func (w *fakeWorkspace) HasRemoteBranch(ctx context.Context, branch string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.remoteBranches[branch]
	return ok, nil
}

func (w *fakeWorkspace) RemoteName() string {
	return "origin"
}

func (w *fakeWorkspace) RemoteURL(ctx context.Context) (string, error) {
	return "https://github.com/acme/widgets", nil
}

func (w *fakeWorkspace) Checkout(ctx context.Context, branch string, force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if force {
		w.record(ctx, "checkout -f %s", branch)
		if err := w.forceCheckoutErr[branch]; err != nil {
			return err
		}
	} else {
		w.record(ctx, "checkout %s", branch)
		if err := w.checkoutErr[branch]; err != nil {
			return err
		}
	}
	commit, ok := w.branches[branch]
	if !ok {
		return fmt.Errorf("pathspec '%s' did not match", branch)
	}
	w.head = git.HeadState{Branch: branch, Commit: commit}
	return nil
}

func (w *fakeWorkspace) startCommit(start string) string {
	if start == "" {
		return w.head.Commit
	}
	if remote, ok := strings.CutPrefix(start, "origin/"); ok {
		return w.remoteBranches[remote]
	}
	return w.branches[start]
}

func (w *fakeWorkspace) CheckoutNew(ctx context.Context, branch, startPoint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(ctx, "checkout -b %s %s", branch, startPoint)
	if w.checkoutNewErr != nil {
		return w.checkoutNewErr
	}
	if _, ok := w.branches[branch]; ok {
		return fmt.Errorf("branch %s already exists", branch)
	}
	commit := w.startCommit(startPoint)
	w.branches[branch] = commit
	w.head = git.HeadState{Branch: branch, Commit: commit}
	return nil
}

func (w *fakeWorkspace) ForceCheckoutNew(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(ctx, "checkout -f -B %s", branch)
	if w.forceNewErr != nil {
		return w.forceNewErr
	}
	w.branches[branch] = w.head.Commit
	w.head = git.HeadState{Branch: branch, Commit: w.head.Commit}
	return nil
}

func (w *fakeWorkspace) CreateBranch(ctx context.Context, branch, startPoint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(ctx, "branch %s %s", branch, startPoint)
	if w.createErr != nil {
		return w.createErr
	}
	if _, ok := w.branches[branch]; ok {
		return fmt.Errorf("branch %s already exists", branch)
	}
	w.branches[branch] = w.startCommit(startPoint)
	return nil
}

func (w *fakeWorkspace) DeleteBranch(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(ctx, "branch -D %s", branch)
	if w.deleteErr != nil {
		return w.deleteErr
	}
	if !w.head.Detached && w.head.Branch == branch {
		return fmt.Errorf("cannot delete checked-out branch %s", branch)
	}
	delete(w.branches, branch)
	return nil
}

func (w *fakeWorkspace) WriteFile(relPath string, content []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.files[relPath] = content
	return nil
}

func (w *fakeWorkspace) ReadFile(relPath string) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, ok := w.files[relPath]
	return data, ok, nil
}

func (w *fakeWorkspace) Stage(ctx context.Context, relPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(ctx, "add %s", relPath)
	w.staged = append(w.staged, relPath)
	return nil
}

func (w *fakeWorkspace) Commit(ctx context.Context, message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(ctx, "commit %s", message)
	if w.commitErr != nil {
		return "", w.commitErr
	}
	w.commitSeq++
	id := fmt.Sprintf("c%d", w.commitSeq)
	w.branches[w.head.Branch] = id
	w.head.Commit = id
	w.staged = nil
	return id, nil
}

func (w *fakeWorkspace) ResetHard(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(ctx, "reset --hard")
	if w.resetErr != nil {
		return w.resetErr
	}
	w.staged = nil
	return nil
}

func (w *fakeWorkspace) Push(ctx context.Context, branch string, cred git.Credential) error {
	w.mu.Lock()
	w.record(ctx, "push %s", branch)
	started, release := w.pushStarted, w.pushRelease
	w.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pushErr != nil {
		return w.pushErr
	}
	w.pushed = append(w.pushed, branch)
	w.remoteBranches[branch] = w.branches[branch]
	return nil
}

type fakeExecutor struct {
	ws      *fakeWorkspace
	syncErr error
	openErr error
	synced  []git.SyncRequest
}

func (e *fakeExecutor) Sync(ctx context.Context, req git.SyncRequest) (git.Workspace, error) {
	e.synced = append(e.synced, req)
	if e.syncErr != nil {
		return nil, e.syncErr
	}
	return e.ws, nil
}

func (e *fakeExecutor) Open(ctx context.Context, path string) (git.Workspace, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	return e.ws, nil
}

func (e *fakeExecutor) LocalPath(name string) (string, error) {
	if name == "" {
		return "", errors.New("invalid repository name")
	}
	return filepath.Join("/repos", name), nil
}

type fakeRecorder struct {
	mu         sync.Mutex
	operations []string
	rollbacks  []string
}

func (r *fakeRecorder) ObserveOperation(operation, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations = append(r.operations, operation+":"+outcome)
}

func (r *fakeRecorder) ObserveRollback(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollbacks = append(r.rollbacks, outcome)
}

type fakePullRequests struct {
	url   string
	err   error
	calls []string
}

func (p *fakePullRequests) EnsureFixPullRequest(_ context.Context, remoteURL, head, base string) (string, error) {
	p.calls = append(p.calls, fmt.Sprintf("%s %s->%s", remoteURL, head, base))
	return p.url, p.err
}
