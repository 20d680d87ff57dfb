// Package inmem provides an in-memory execution.Store for tests and local
// development. Executions are held in a map keyed by id with no persistence
// across process restarts.
package inmem

import (
	"context"
	"sync"

	"github.com/nervemind/nervemind/execution"
)

// Store implements execution.Store in memory. All operations are thread-safe
// via sync.RWMutex; records are deep-copied on read and write so concurrent
// readers tolerate the engine's in-flight mutations.
type Store struct {
	mu      sync.RWMutex
	records map[string]*execution.Execution
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*execution.Execution)}
}

// Upsert inserts or replaces an execution keyed by its ID.
func (s *Store) Upsert(_ context.Context, ex *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ex.ID] = ex.Clone()
	return nil
}

// Load retrieves an execution by id. Returns execution.ErrNotFound when
// absent.
func (s *Store) Load(_ context.Context, id string) (*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.records[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	return ex.Clone(), nil
}

// List returns all stored executions.
func (s *Store) List(_ context.Context) ([]*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*execution.Execution, 0, len(s.records))
	for _, ex := range s.records {
		out = append(out, ex.Clone())
	}
	return out, nil
}

// Reset clears all stored executions. Useful for test isolation.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*execution.Execution)
}
