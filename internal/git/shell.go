package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotRepository indicates a path exists but holds no git repository.
	ErrNotRepository = errors.New("not a git repository")

	// ErrPathOutsideWorkingCopy indicates a relative path escapes the working copy.
	ErrPathOutsideWorkingCopy = errors.New("path escapes the working copy")
)

// ShellExecutor shells out to the system git binary to manage working copies
// stored under Root.
type ShellExecutor struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// Root is the directory holding one working copy per repository name.
	// Defaults to "repos" relative to the process working directory.
	Root string

	// RemoteName controls which remote the workspace interacts with. Defaults to "origin".
	RemoteName string

	// CredentialHosts lists hosts whose HTTPS URLs get the credential
	// embedded. Defaults to DefaultCredentialHosts.
	CredentialHosts []string

	// UserName and UserEmail set the commit identity per invocation; the
	// repository configuration is never modified.
	UserName  string
	UserEmail string

	// NetworkRetries controls how many additional attempts are made for
	// network oriented git commands (clone, fetch, push). Zero or negative
	// disables retries.
	NetworkRetries int

	// NetworkRetryDelay controls the initial backoff delay between retries. When zero,
	// a default of 1 second is used. Backoff grows exponentially per attempt.
	NetworkRetryDelay time.Duration

	// NetworkTimeout bounds network commands that would otherwise inherit an
	// unbounded context. Zero leaves them unbounded.
	NetworkTimeout time.Duration
}

// NewShellExecutor returns an Executor backed by system git commands.
func NewShellExecutor(root string) *ShellExecutor {
	return &ShellExecutor{Root: root}
}

func (e *ShellExecutor) gitBinary() string {
	if e.Git == "" {
		return "git"
	}
	return e.Git
}

func (e *ShellExecutor) remoteName() string {
	if e.RemoteName == "" {
		return "origin"
	}
	return e.RemoteName
}

func (e *ShellExecutor) root() string {
	if e.Root == "" {
		return "repos"
	}
	return e.Root
}

// LocalPath returns where the working copy called name lives.
func (e *ShellExecutor) LocalPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid repository name %q", name)
	}
	root, err := filepath.Abs(e.root())
	if err != nil {
		return "", fmt.Errorf("resolve repository root: %w", err)
	}
	return filepath.Join(root, name), nil
}

// Sync clones or refreshes the working copy described by req.
func (e *ShellExecutor) Sync(ctx context.Context, req SyncRequest) (Workspace, error) {
	remote := NormalizeRemoteURL(req.RemoteURL)
	if remote == "" {
		return nil, fmt.Errorf("remote url is required")
	}

	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = RepoNameFromURL(remote)
	}

	localPath, err := e.LocalPath(name)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(localPath); statErr == nil {
		ws, err := e.Open(ctx, localPath)
		if err != nil {
			return nil, err
		}
		if err := ws.(*shellWorkspace).pull(ctx, req.Credential); err != nil {
			return nil, err
		}
		return ws, nil
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("stat %s: %w", localPath, statErr)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, fmt.Errorf("create repository root: %w", err)
	}

	return e.clone(ctx, remote, localPath, req.Credential)
}

func (e *ShellExecutor) clone(ctx context.Context, remote, localPath string, cred Credential) (Workspace, error) {
	cleanup := func() {
		_ = os.RemoveAll(localPath)
	}

	cloneURL, authenticated := AuthenticatedURL(remote, cred, e.CredentialHosts)

	args := []string{"clone"}
	if e.remoteName() != "origin" {
		args = append(args, "--origin", e.remoteName())
	}
	args = append(args, "--", cloneURL, localPath)
	if err := e.runGit(ctx, args...); err != nil {
		cleanup()
		return nil, fmt.Errorf("git clone: %w", err)
	}

	// The clone records the URL it was given; keep the secret out of .git/config.
	if authenticated {
		if err := e.runGit(ctx, "-C", localPath, "remote", "set-url", e.remoteName(), remote); err != nil {
			cleanup()
			return nil, fmt.Errorf("git remote set-url: %w", err)
		}
	}

	return &shellWorkspace{executor: e, path: localPath, remoteName: e.remoteName()}, nil
}

// Open binds to an existing working copy.
func (e *ShellExecutor) Open(ctx context.Context, path string) (Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	if _, err := openRepository(abs); err != nil {
		return nil, fmt.Errorf("open %s: %w", abs, err)
	}
	return &shellWorkspace{executor: e, path: abs, remoteName: e.remoteName()}, nil
}

type shellWorkspace struct {
	path       string
	remoteName string
	executor   *ShellExecutor
}

func (w *shellWorkspace) Path() string {
	return w.path
}

func (w *shellWorkspace) RemoteName() string {
	return w.remoteName
}

// pull fetches every remote branch into the remote-tracking namespace and
// fast-forwards the checked-out branch when it has a tracking ref.
func (w *shellWorkspace) pull(ctx context.Context, cred Credential) error {
	source := w.remoteName
	if !cred.IsZero() {
		stored, err := w.fetchURL(ctx)
		if err != nil {
			return err
		}
		if authed, ok := AuthenticatedURL(stored, cred, w.executor.CredentialHosts); ok {
			source = authed
		}
	}

	if source == w.remoteName {
		if err := w.exec(ctx, "fetch", "--prune", w.remoteName); err != nil {
			return fmt.Errorf("git fetch: %w", err)
		}
	} else {
		refspec := fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", w.remoteName)
		if err := w.exec(ctx, "fetch", "--prune", source, refspec); err != nil {
			return fmt.Errorf("git fetch: %w", err)
		}
	}

	head, err := w.Head(ctx)
	if err != nil {
		return err
	}
	if head.Detached || head.Branch == "" {
		return nil
	}

	tracked, err := w.HasRemoteBranch(ctx, head.Branch)
	if err != nil || !tracked {
		return err
	}

	if err := w.exec(ctx, "merge", "--ff-only", fmt.Sprintf("%s/%s", w.remoteName, head.Branch)); err != nil {
		return fmt.Errorf("git merge %s: %w", head.Branch, err)
	}
	return nil
}

func (w *shellWorkspace) fetchURL(ctx context.Context) (string, error) {
	out, err := w.executor.captureGitOutput(ctx, "-C", w.path, "remote", "get-url", w.remoteName)
	if err != nil {
		return "", fmt.Errorf("git remote get-url: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (w *shellWorkspace) pushURL(ctx context.Context) (string, error) {
	out, err := w.executor.captureGitOutput(ctx, "-C", w.path, "remote", "get-url", "--push", w.remoteName)
	if err != nil {
		return "", fmt.Errorf("git remote get-url --push: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (w *shellWorkspace) Checkout(ctx context.Context, branch string, force bool) error {
	args := []string{"checkout"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, branch, "--")
	if err := w.exec(ctx, args...); err != nil {
		return fmt.Errorf("git checkout %s: %w", branch, err)
	}
	return nil
}

func (w *shellWorkspace) CheckoutNew(ctx context.Context, branch, startPoint string) error {
	args := []string{"checkout", "-b", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	if err := w.exec(ctx, args...); err != nil {
		return fmt.Errorf("git checkout -b %s: %w", branch, err)
	}
	return nil
}

func (w *shellWorkspace) ForceCheckoutNew(ctx context.Context, branch string) error {
	if err := w.exec(ctx, "checkout", "--force", "-B", branch); err != nil {
		return fmt.Errorf("git checkout -B %s: %w", branch, err)
	}
	return nil
}

func (w *shellWorkspace) CreateBranch(ctx context.Context, branch, startPoint string) error {
	args := []string{"branch", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	if err := w.exec(ctx, args...); err != nil {
		return fmt.Errorf("git branch %s: %w", branch, err)
	}
	return nil
}

func (w *shellWorkspace) DeleteBranch(ctx context.Context, branch string) error {
	if err := w.exec(ctx, "branch", "-D", branch); err != nil {
		return fmt.Errorf("git branch -D %s: %w", branch, err)
	}
	return nil
}

// resolve validates relPath lexically and returns it in OS form. Symlinks
// are confined by the os.Root used for file access.
func (w *shellWorkspace) resolve(relPath string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimSpace(relPath)))
	if rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%q: %w", relPath, ErrPathOutsideWorkingCopy)
	}
	if first := strings.Split(rel, string(filepath.Separator))[0]; first == ".git" {
		return "", fmt.Errorf("%q: %w", relPath, ErrPathOutsideWorkingCopy)
	}
	return rel, nil
}

func (w *shellWorkspace) WriteFile(relPath string, content []byte) error {
	rel, err := w.resolve(relPath)
	if err != nil {
		return err
	}

	root, err := os.OpenRoot(w.path)
	if err != nil {
		return fmt.Errorf("open working copy: %w", err)
	}
	defer root.Close()

	mode := os.FileMode(0o644)
	if info, err := root.Stat(rel); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", relPath)
		}
		mode = info.Mode().Perm()
	}

	if dir := filepath.Dir(rel); dir != "." {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create parent directory: %w", err)
		}
	}
	if err := root.WriteFile(rel, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", relPath, err)
	}
	return nil
}

func (w *shellWorkspace) ReadFile(relPath string) ([]byte, bool, error) {
	rel, err := w.resolve(relPath)
	if err != nil {
		return nil, false, err
	}

	root, err := os.OpenRoot(w.path)
	if err != nil {
		return nil, false, fmt.Errorf("open working copy: %w", err)
	}
	defer root.Close()

	data, err := root.ReadFile(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", relPath, err)
	}
	return data, true, nil
}

// Stage adds exactly relPath. Pathspec magic is disabled so glob characters
// in a file name never match other files.
func (w *shellWorkspace) Stage(ctx context.Context, relPath string) error {
	rel, err := w.resolve(relPath)
	if err != nil {
		return err
	}
	slashed := filepath.ToSlash(rel)
	if err := w.exec(ctx, "--literal-pathspecs", "add", "--", slashed); err != nil {
		return fmt.Errorf("git add %s: %w", slashed, err)
	}
	return nil
}

// Commit records the staged changes. Empty commits are allowed so that
// re-applying identical content still produces a publishable commit.
func (w *shellWorkspace) Commit(ctx context.Context, message string) (string, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return "", fmt.Errorf("commit message is required")
	}

	args := make([]string, 0, 8)
	if w.executor.UserName != "" {
		args = append(args, "-c", "user.name="+w.executor.UserName)
	}
	if w.executor.UserEmail != "" {
		args = append(args, "-c", "user.email="+w.executor.UserEmail)
	}
	args = append(args, "commit", "--allow-empty", "-m", msg)
	if err := w.exec(ctx, args...); err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}

	head, err := w.Head(ctx)
	if err != nil {
		return "", err
	}
	return head.Commit, nil
}

func (w *shellWorkspace) ResetHard(ctx context.Context) error {
	if err := w.exec(ctx, "reset", "--hard"); err != nil {
		return fmt.Errorf("git reset --hard: %w", err)
	}
	return nil
}

func (w *shellWorkspace) Push(ctx context.Context, branch string, cred Credential) error {
	target := w.remoteName
	if !cred.IsZero() {
		pushURL, err := w.pushURL(ctx)
		if err != nil {
			return err
		}
		if authed, ok := AuthenticatedURL(pushURL, cred, w.executor.CredentialHosts); ok {
			target = authed
		}
	}

	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
	if err := w.exec(ctx, "push", "--force", target, refspec); err != nil {
		return fmt.Errorf("git push %s: %w", branch, err)
	}
	return nil
}

func (w *shellWorkspace) exec(ctx context.Context, args ...string) error {
	cmd := append([]string{"-C", w.path}, args...)
	return w.executor.runGit(ctx, cmd...)
}

// processWaitDelay bounds how long Wait blocks on output pipes after the
// process group was killed.
const processWaitDelay = 5 * time.Second

func (e *ShellExecutor) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.gitBinary(), args...)
	cmd.Env = gitEnv()
	killGroupOnCancel(cmd)
	return cmd
}

func (e *ShellExecutor) captureGitOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.command(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &GitError{Args: args, Output: stderr.String(), Err: err}
	}
	return string(output), nil
}

func (e *ShellExecutor) runGit(ctx context.Context, args ...string) error {
	primary := primaryGitCommand(args)
	isNetwork := isNetworkCommand(primary)

	retries := 0
	if isNetwork && e.NetworkRetries > 0 {
		retries = e.NetworkRetries
	}

	delay := e.networkRetryDelayValue()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := e.applyNetworkTimeout(ctx, isNetwork)
		err := e.runGitOnce(attemptCtx, args...)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !isNetwork {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if IsAuthFailure(err) {
			break
		}
		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastErr
}

func (e *ShellExecutor) runGitOnce(ctx context.Context, args ...string) error {
	cmd := e.command(ctx, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &GitError{Args: args, Output: output.String(), Err: err}
	}
	return nil
}

// gitEnv disables interactive prompts; a missing credential must fail fast.
func gitEnv() []string {
	return append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=", "GCM_INTERACTIVE=never")
}

func primaryGitCommand(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(arg, "-") {
			switch arg {
			case "-C", "--git-dir", "-c":
				i++
			}
			continue
		}
		return arg
	}
	return ""
}

func isNetworkCommand(cmd string) bool {
	switch cmd {
	case "clone", "fetch", "push", "pull":
		return true
	default:
		return false
	}
}

func (e *ShellExecutor) networkRetryDelayValue() time.Duration {
	if e.NetworkRetryDelay <= 0 {
		return time.Second
	}
	return e.NetworkRetryDelay
}

func (e *ShellExecutor) applyNetworkTimeout(ctx context.Context, network bool) (context.Context, context.CancelFunc) {
	if !network || e.NetworkTimeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.IsZero() {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.NetworkTimeout)
}

// GitError wraps failures when invoking the git binary. URL credentials are
// masked in its message.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return RedactURLs(msg)
}

func (e *GitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsAuthFailure reports whether err looks like the remote rejected the
// supplied (or missing) credentials.
func IsAuthFailure(err error) bool {
	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	out := strings.ToLower(gitErr.Output)
	for _, marker := range []string{
		"authentication failed",
		"could not read username",
		"could not read password",
		"invalid username or password",
		"permission to",
		"the requested url returned error: 401",
		"the requested url returned error: 403",
	} {
		if strings.Contains(out, marker) {
			return true
		}
	}
	return false
}
