// Package inmem provides an in-memory settings.Store for tests and local
// development.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/nervemind/nervemind/settings"
)

// Store implements settings.Store in memory. All operations are thread-safe
// via sync.RWMutex.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// Get returns the value for key.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", settings.ErrNotFound, key)
	}
	return v, nil
}

// Set stores the value for key.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
