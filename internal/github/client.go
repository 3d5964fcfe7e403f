package gh

import (
	"context"
	"errors"
)

// PullRequest describes a pull request opened for the automation branch.
type PullRequest struct {
	URL    string
	Number int
	Head   string
	Base   string
}

// CreatePROptions defines the metadata required to open a fix pull request.
type CreatePROptions struct {
	Title               string
	Body                string
	Head                string
	Base                string
	Draft               bool
	MaintainerCanModify bool
}

// Client exposes the GitHub operations required to publish a fix for review.
type Client interface {
	// FindOpenPullRequest returns the open pull request from head into base,
	// or ErrPullRequestNotFound.
	FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (PullRequest, error)
	CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (PullRequest, error)
}

// Factory builds a Client authenticated with token.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

var (
	// ErrPullRequestNotFound indicates no open pull request matched.
	ErrPullRequestNotFound = errors.New("github: pull request not found")

	// ErrRepositoryNotFound indicates the repository is missing or not visible to the token.
	ErrRepositoryNotFound = errors.New("github: repository not found")

	// ErrRetryable is joined to API failures that may succeed on a later
	// attempt: rate limiting, 5xx responses, and network timeouts.
	ErrRetryable = errors.New("github: retryable")
)

// IsRetryable reports whether err carries ErrRetryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}
