package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/variable"
)

func TestUpsertListByScope(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, variable.NewGlobal("apiBase", "https://api.example.com", variable.TypeString)))
	require.NoError(t, s.Upsert(ctx, variable.NewWorkflow("wf-1", "apiBase", "https://staging.example.com", variable.TypeString)))
	require.NoError(t, s.Upsert(ctx, variable.NewWorkflow("wf-2", "other", "x", variable.TypeString)))

	globals, err := s.List(ctx, variable.ScopeGlobal, "")
	require.NoError(t, err)
	require.Len(t, globals, 1)
	assert.Equal(t, "apiBase", globals[0].Name)

	scoped, err := s.List(ctx, variable.ScopeWorkflow, "wf-1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "https://staging.example.com", scoped[0].Value)
}

func TestUpsertReplacesByName(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, variable.NewGlobal("retries", 3, variable.TypeNumber)))
	require.NoError(t, s.Upsert(ctx, variable.NewGlobal("retries", 5, variable.TypeNumber)))

	globals, err := s.List(ctx, variable.ScopeGlobal, "")
	require.NoError(t, err)
	require.Len(t, globals, 1)
	assert.Equal(t, 5, globals[0].Value)
}

func TestUpsertRejectsExecutionScope(t *testing.T) {
	err := New().Upsert(context.Background(), variable.Variable{Scope: variable.ScopeExecution, Name: "tmp"})
	require.ErrorIs(t, err, variable.ErrInvalidScope)
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, variable.NewGlobal("key", "v", variable.TypeString)))
	require.NoError(t, s.Delete(ctx, variable.ScopeGlobal, "", "key"))

	globals, err := s.List(ctx, variable.ScopeGlobal, "")
	require.NoError(t, err)
	assert.Empty(t, globals)

	// Deleting again is not an error.
	require.NoError(t, s.Delete(ctx, variable.ScopeGlobal, "", "key"))
}
