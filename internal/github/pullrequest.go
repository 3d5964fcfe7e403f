package gh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Repository identifies a GitHub repository.
type Repository struct {
	Owner string
	Name  string
}

// ParseRepository extracts owner and name from an HTTPS or scp-style SSH
// remote URL, e.g. https://github.com/acme/widgets.git or
// git@github.com:acme/widgets.git.
func ParseRepository(remote string) (Repository, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return Repository{}, fmt.Errorf("remote url cannot be empty")
	}

	var path string
	if strings.Contains(remote, "://") {
		parsed, err := url.Parse(remote)
		if err != nil {
			return Repository{}, fmt.Errorf("parse remote url: %w", err)
		}
		path = parsed.Path
	} else if userHost, rest, ok := strings.Cut(remote, ":"); ok && strings.Contains(userHost, "@") {
		path = rest
	} else {
		return Repository{}, fmt.Errorf("unsupported remote url %q", remote)
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return Repository{}, fmt.Errorf("remote url %q does not name owner/repo", remote)
	}
	owner := parts[len(parts)-2]
	name := strings.TrimSuffix(parts[len(parts)-1], ".git")
	if owner == "" || name == "" {
		return Repository{}, fmt.Errorf("remote url %q does not name owner/repo", remote)
	}
	return Repository{Owner: owner, Name: name}, nil
}

const pullRequestBody = `This pull request was opened automatically.

The branch ` + "`%s`" + ` is recreated and force-pushed on every fix run; review and merge it promptly or copy the change elsewhere.`

// FixPullRequests opens at most one pull request per automation branch and
// base branch.
type FixPullRequests struct {
	client Client
	log    *slog.Logger
}

// NewFixPullRequests returns FixPullRequests backed by client.
func NewFixPullRequests(client Client, logger *slog.Logger) *FixPullRequests {
	return &FixPullRequests{client: client, log: logger}
}

// EnsureFixPullRequest reuses an open pull request from head into base, or
// opens one, and returns its URL.
func (p *FixPullRequests) EnsureFixPullRequest(ctx context.Context, remoteURL, head, base string) (string, error) {
	repo, err := ParseRepository(remoteURL)
	if err != nil {
		return "", err
	}

	existing, err := p.client.FindOpenPullRequest(ctx, repo.Owner, repo.Name, head, base)
	switch {
	case err == nil:
		if p.log != nil {
			p.log.Info("pull request already open", "owner", repo.Owner, "repo", repo.Name, "number", existing.Number, "url", existing.URL)
		}
		return existing.URL, nil
	case !errors.Is(err, ErrPullRequestNotFound):
		p.warn(repo, "find pull request", err)
		return "", err
	}

	created, err := p.client.CreatePullRequest(ctx, repo.Owner, repo.Name, CreatePROptions{
		Title:               fmt.Sprintf("Automated fix for %s", base),
		Body:                fmt.Sprintf(pullRequestBody, head),
		Head:                head,
		Base:                base,
		MaintainerCanModify: true,
	})
	if err != nil {
		p.warn(repo, "create pull request", err)
		return "", err
	}

	if p.log != nil {
		p.log.Info("opened pull request", "owner", repo.Owner, "repo", repo.Name, "number", created.Number, "url", created.URL)
	}
	return created.URL, nil
}

func (p *FixPullRequests) warn(repo Repository, action string, err error) {
	if p.log != nil {
		p.log.Warn("github request failed", "action", action, "owner", repo.Owner, "repo", repo.Name, "retryable", IsRetryable(err), "error", err)
	}
}
