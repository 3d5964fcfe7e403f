package git

import "context"

// Executor obtains working copies for the fix workflow.
type Executor interface {
	// Sync opens the working copy for req.Name under the executor root and
	// refreshes it from its remote, or clones req.RemoteURL when it does not
	// exist yet.
	Sync(ctx context.Context, req SyncRequest) (Workspace, error)
	// Open binds to an existing working copy without touching the network.
	Open(ctx context.Context, path string) (Workspace, error)
	// LocalPath reports where the working copy called name lives.
	LocalPath(name string) (string, error)
}

// SyncRequest describes a working copy to obtain.
type SyncRequest struct {
	RemoteURL  string
	Name       string
	Credential Credential
}

// HeadState describes what HEAD points at.
type HeadState struct {
	// Branch is the checked-out branch; empty when detached.
	Branch string
	// Commit is the commit HEAD resolves to; empty on an unborn branch.
	Commit   string
	Detached bool
}

// Workspace exposes git primitives required by the fixer. Mutations shell out
// to git; ref queries read the repository directly.
type Workspace interface {
	Path() string

	Head(ctx context.Context) (HeadState, error)
	LocalBranches(ctx context.Context) ([]string, error)
	// RemoteDefaultBranch returns the branch the remote's HEAD symref points
	// at, or "" when the remote HEAD is unknown.
	RemoteDefaultBranch(ctx context.Context) (string, error)
	HasRemoteBranch(ctx context.Context, branch string) (bool, error)
	RemoteName() string
	// RemoteURL returns the fetch URL stored for the remote.
	RemoteURL(ctx context.Context) (string, error)

	Checkout(ctx context.Context, branch string, force bool) error
	CheckoutNew(ctx context.Context, branch, startPoint string) error
	ForceCheckoutNew(ctx context.Context, branch string) error
	CreateBranch(ctx context.Context, branch, startPoint string) error
	DeleteBranch(ctx context.Context, branch string) error

	WriteFile(relPath string, content []byte) error
	ReadFile(relPath string) ([]byte, bool, error)
	Stage(ctx context.Context, relPath string) error
	Commit(ctx context.Context, message string) (string, error)
	ResetHard(ctx context.Context) error

	// Push publishes branch with force semantics. When cred is set and the
	// push URL belongs to a recognized host, an authenticated URL is used for
	// this invocation only.
	Push(ctx context.Context, branch string, cred Credential) error
}
