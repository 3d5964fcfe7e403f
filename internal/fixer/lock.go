package fixer

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// pathLocks serializes operations per working-copy path. The git index and
// working tree have no coordination of their own beyond lock files.
type pathLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newPathLocks() *pathLocks {
	return &pathLocks{sems: make(map[string]*semaphore.Weighted)}
}

// acquire blocks until path is free or ctx is done.
func (l *pathLocks) acquire(ctx context.Context, path string) (func(), error) {
	key := filepath.Clean(path)

	l.mu.Lock()
	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[key] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
