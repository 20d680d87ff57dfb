// Package inmem provides an in-memory variable.Store for tests and local
// development. Values are held as-is; durable implementations are
// responsible for encrypting secret variables at rest.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/nervemind/nervemind/variable"
)

// Store implements variable.Store in memory, keyed by (scope, workflowID,
// name). All operations are thread-safe via sync.RWMutex.
type Store struct {
	mu   sync.RWMutex
	vars map[string]variable.Variable
}

// New constructs an empty Store.
func New() *Store {
	return &Store{vars: make(map[string]variable.Variable)}
}

// Upsert inserts or replaces a variable.
func (s *Store) Upsert(_ context.Context, v variable.Variable) error {
	if v.Scope == variable.ScopeExecution {
		return fmt.Errorf("%w: %s", variable.ErrInvalidScope, v.Scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[key(v.Scope, v.WorkflowID, v.Name)] = v
	return nil
}

// List returns the variables in the given scope in unspecified order.
func (s *Store) List(_ context.Context, scope variable.Scope, workflowID string) ([]variable.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []variable.Variable
	for _, v := range s.vars {
		if v.Scope != scope {
			continue
		}
		if scope == variable.ScopeWorkflow && v.WorkflowID != workflowID {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete removes a variable. Missing variables are not an error.
func (s *Store) Delete(_ context.Context, scope variable.Scope, workflowID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, key(scope, workflowID, name))
	return nil
}

// Reset clears all stored variables. Useful for test isolation.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars = make(map[string]variable.Variable)
}

func key(scope variable.Scope, workflowID, name string) string {
	return string(scope) + "\x00" + workflowID + "\x00" + name
}
