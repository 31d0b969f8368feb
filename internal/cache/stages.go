// Package cache keeps recently loaded stage trees in memory.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"voicetrack/internal/domain"
)

// StageCache is an LRU of stage trees keyed by project id. A nil
// *StageCache is valid and caches nothing.
//
// Every Invalidate bumps the project's epoch. Loaders read the epoch before
// querying and store with PutAt, so a load that raced a commit is dropped
// instead of caching pre-commit state.
type StageCache struct {
	lru *lru.Cache[string, []domain.Stage]

	mu     sync.Mutex
	epochs map[string]uint64
}

// NewStageCache returns nil for size <= 0.
func NewStageCache(size int) (*StageCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, []domain.Stage](size)
	if err != nil {
		return nil, err
	}
	return &StageCache{lru: c, epochs: map[string]uint64{}}, nil
}

// Get returns a private copy of the cached stages.
func (c *StageCache) Get(projectID string) ([]domain.Stage, bool) {
	if c == nil {
		return nil, false
	}
	stages, ok := c.lru.Get(projectID)
	if !ok {
		return nil, false
	}
	return Clone(stages), true
}

func (c *StageCache) Epoch(projectID string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[projectID]
}

// PutAt stores stages only if no invalidation happened since epoch was read.
func (c *StageCache) PutAt(projectID string, epoch uint64, stages []domain.Stage) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[projectID] != epoch {
		return false
	}
	c.lru.Add(projectID, Clone(stages))
	return true
}

func (c *StageCache) Invalidate(projectID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[projectID]++
	c.lru.Remove(projectID)
}

func (c *StageCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Clone deep-copies stages and their task slices.
func Clone(stages []domain.Stage) []domain.Stage {
	if stages == nil {
		return nil
	}
	out := make([]domain.Stage, len(stages))
	for i, s := range stages {
		out[i] = s
		out[i].Tasks = append([]domain.Task(nil), s.Tasks...)
		if out[i].Tasks == nil {
			out[i].Tasks = []domain.Task{}
		}
	}
	return out
}
