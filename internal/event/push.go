package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-github/v55/github"
)

// ErrNotPushEvent is returned for payloads that carry no ref or repository.
var ErrNotPushEvent = errors.New("event: payload is not a push event")

// PushPayload captures the subset of a GitHub push event used to refresh a
// working copy.
type PushPayload struct {
	Ref        string
	Before     string
	After      string
	Deleted    bool
	Repository Repository
}

// Repository identifies the repository the push landed in.
type Repository struct {
	Owner         string
	Name          string
	CloneURL      string
	DefaultBranch string
}

// Branch returns the pushed branch, or "" when Ref is not a branch ref.
func (p PushPayload) Branch() string {
	name, ok := strings.CutPrefix(p.Ref, "refs/heads/")
	if !ok {
		return ""
	}
	return name
}

// ParsePushEvent decodes a GitHub push event payload from the provided reader.
func ParsePushEvent(r io.Reader) (PushPayload, error) {
	var raw github.PushEvent

	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return PushPayload{}, fmt.Errorf("decode push event: %w", err)
	}

	repo := raw.GetRepo()
	payload := PushPayload{
		Ref:     strings.TrimSpace(raw.GetRef()),
		Before:  strings.TrimSpace(raw.GetBefore()),
		After:   strings.TrimSpace(raw.GetAfter()),
		Deleted: raw.GetDeleted(),
		Repository: Repository{
			Owner:         strings.TrimSpace(repo.GetOwner().GetLogin()),
			Name:          strings.TrimSpace(repo.GetName()),
			CloneURL:      strings.TrimSpace(repo.GetCloneURL()),
			DefaultBranch: strings.TrimSpace(repo.GetDefaultBranch()),
		},
	}
	if payload.Repository.Owner == "" {
		payload.Repository.Owner = strings.TrimSpace(repo.GetOwner().GetName())
	}

	if payload.Ref == "" || repo == nil || payload.Repository.CloneURL == "" || payload.Repository.Name == "" {
		return PushPayload{}, ErrNotPushEvent
	}

	return payload, nil
}

// ParsePushEventFile reads the event JSON from disk.
func ParsePushEventFile(path string) (PushPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return PushPayload{}, fmt.Errorf("open event file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close event file: %v\n", closeErr)
		}
	}()

	return ParsePushEvent(f)
}
