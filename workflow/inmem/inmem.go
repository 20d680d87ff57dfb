// Package inmem provides an in-memory workflow.Store for tests and local
// development. Workflows are held in a map keyed by id with no persistence
// across process restarts.
package inmem

import (
	"context"
	"sync"

	"github.com/nervemind/nervemind/workflow"
)

// Store implements workflow.Store in memory. All operations are thread-safe
// via sync.RWMutex. Workflows are deep-copied on write and read so callers
// cannot mutate stored state.
type Store struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
}

// New constructs an empty Store.
func New() *Store {
	return &Store{workflows: make(map[string]*workflow.Workflow)}
}

// Upsert inserts or replaces a workflow keyed by its ID.
func (s *Store) Upsert(_ context.Context, wf *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// Load retrieves a workflow by id. Returns workflow.ErrNotFound when absent.
func (s *Store) Load(_ context.Context, id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return wf.Clone(), nil
}

// List returns all stored workflows.
func (s *Store) List(_ context.Context) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf.Clone())
	}
	return out, nil
}

// Reset clears all stored workflows. Useful for test isolation.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = make(map[string]*workflow.Workflow)
}
