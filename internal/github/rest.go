package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const (
	defaultUserAgent = "rancher-autofix"
	listPageSize     = 50
)

// NewRESTFactory returns a Factory backed by the go-github REST client.
// Setting both URLs targets a GitHub Enterprise instance; setting only one is
// an error reported by New.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		baseURL:   strings.TrimSpace(baseURL),
		uploadURL: strings.TrimSpace(uploadURL),
	}
}

type restFactory struct {
	baseURL   string
	uploadURL string
}

type restClient struct {
	api *github.Client
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("github token is required")
	}

	base, upload, err := enterpriseURLs(f.baseURL, f.uploadURL)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	api := github.NewClient(httpClient)
	if base != "" {
		if api, err = api.WithEnterpriseURLs(base, upload); err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
	}
	api.UserAgent = defaultUserAgent

	return &restClient{api: api}, nil
}

// enterpriseURLs validates the optional Enterprise endpoints and returns them
// with a trailing slash, as go-github expects.
func enterpriseURLs(base, upload string) (string, string, error) {
	switch {
	case base == "" && upload == "":
		return "", "", nil
	case base == "":
		return "", "", errors.New("github upload url cannot be set without base url")
	case upload == "":
		return "", "", errors.New("github upload url must be provided when base url is set")
	}

	normalizedBase, err := withTrailingSlash(base)
	if err != nil {
		return "", "", fmt.Errorf("parse github base url: %w", err)
	}
	normalizedUpload, err := withTrailingSlash(upload)
	if err != nil {
		return "", "", fmt.Errorf("parse github upload url: %w", err)
	}
	return normalizedBase, normalizedUpload, nil
}

func withTrailingSlash(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q must be absolute (e.g. https://ghe.example.com/api/v3)", raw)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawQuery, parsed.Fragment = "", ""
	return parsed.String(), nil
}

func (c *restClient) FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		Head:        owner + ":" + head,
		Base:        base,
		ListOptions: github.ListOptions{PerPage: listPageSize},
	}

	for {
		prs, resp, err := c.api.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			if statusCode(err) == http.StatusNotFound {
				return PullRequest{}, fmt.Errorf("%s/%s: %w", owner, repo, ErrRepositoryNotFound)
			}
			return PullRequest{}, apiError("list pull requests", err)
		}

		for _, pr := range prs {
			if pr.GetHead().GetRef() == head {
				return toPullRequest(pr), nil
			}
		}

		if resp == nil || resp.NextPage == 0 {
			return PullRequest{}, ErrPullRequestNotFound
		}
		opts.Page = resp.NextPage
	}
}

func (c *restClient) CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (PullRequest, error) {
	pr, _, err := c.api.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title:               github.String(input.Title),
		Head:                github.String(input.Head),
		Base:                github.String(input.Base),
		Body:                github.String(input.Body),
		Draft:               github.Bool(input.Draft),
		MaintainerCanModify: github.Bool(input.MaintainerCanModify),
	})
	if err != nil {
		return PullRequest{}, apiError("create pull request", err)
	}
	return toPullRequest(pr), nil
}

func toPullRequest(pr *github.PullRequest) PullRequest {
	return PullRequest{
		URL:    pr.GetHTMLURL(),
		Number: pr.GetNumber(),
		Head:   pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
	}
}

// apiError wraps err with op, joining ErrRetryable when a later attempt may
// succeed.
func apiError(op string, err error) error {
	if retryable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrRetryable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func retryable(err error) bool {
	var (
		rateLimit *github.RateLimitError
		abuse     *github.AbuseRateLimitError
		accepted  *github.AcceptedError
		netErr    net.Error
	)
	switch {
	case errors.As(err, &rateLimit), errors.As(err, &abuse), errors.As(err, &accepted):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	}

	code := statusCode(err)
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// statusCode extracts the HTTP status from a go-github error, or 0.
func statusCode(err error) int {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode
	}
	return 0
}
