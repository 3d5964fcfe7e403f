package git

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// openRepository opens path without searching parent directories, so a plain
// directory nested in another checkout is not mistaken for a working copy.
func openRepository(path string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, err
	}
	return repo, nil
}

// The repository is reopened per query because mutations happen through the
// git binary behind go-git's back.
func (w *shellWorkspace) repository() (*gogit.Repository, error) {
	repo, err := openRepository(w.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.path, err)
	}
	return repo, nil
}

func (w *shellWorkspace) Head(ctx context.Context) (HeadState, error) {
	if err := ctx.Err(); err != nil {
		return HeadState{}, err
	}
	repo, err := w.repository()
	if err != nil {
		return HeadState{}, err
	}

	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return HeadState{}, fmt.Errorf("read HEAD: %w", err)
	}

	if head.Type() == plumbing.HashReference {
		return HeadState{Commit: head.Hash().String(), Detached: true}, nil
	}

	if !head.Target().IsBranch() {
		return HeadState{}, fmt.Errorf("HEAD points at %s, not a branch", head.Target())
	}
	state := HeadState{Branch: head.Target().Short()}

	target, err := repo.Reference(head.Target(), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn branch.
			return state, nil
		}
		return HeadState{}, fmt.Errorf("resolve %s: %w", head.Target(), err)
	}
	state.Commit = target.Hash().String()
	return state, nil
}

func (w *shellWorkspace) LocalBranches(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := w.repository()
	if err != nil {
		return nil, err
	}

	iter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer iter.Close()

	var branches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	sort.Strings(branches)
	return branches, nil
}

func (w *shellWorkspace) RemoteDefaultBranch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := w.repository()
	if err != nil {
		return "", err
	}

	ref, err := repo.Reference(plumbing.NewRemoteReferenceName(w.remoteName, "HEAD"), false)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read %s/HEAD: %w", w.remoteName, err)
	}
	if ref.Type() != plumbing.SymbolicReference {
		return "", nil
	}

	prefix := "refs/remotes/" + w.remoteName + "/"
	target := ref.Target().String()
	if !strings.HasPrefix(target, prefix) {
		return "", nil
	}
	return strings.TrimPrefix(target, prefix), nil
}

func (w *shellWorkspace) HasRemoteBranch(ctx context.Context, branch string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	repo, err := w.repository()
	if err != nil {
		return false, err
	}

	_, err = repo.Reference(plumbing.NewRemoteReferenceName(w.remoteName, branch), false)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read %s/%s: %w", w.remoteName, branch, err)
	}
	return true, nil
}

func (w *shellWorkspace) RemoteURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo, err := w.repository()
	if err != nil {
		return "", err
	}

	remote, err := repo.Remote(w.remoteName)
	if err != nil {
		return "", fmt.Errorf("read remote %s: %w", w.remoteName, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no url", w.remoteName)
	}
	return urls[0], nil
}
