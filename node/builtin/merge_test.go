package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

func TestMergeUnionsPaths(t *testing.T) {
	exec := NewMerge()
	n := workflow.Node{ID: "n1", Type: "merge", Parameters: map[string]any{}}

	// The engine delivers the flat union plus per-path maps; merge mode
	// keeps the union and drops the paths key.
	input := map[string]any{
		"a": 1, "b": 2,
		node.KeyPaths: []map[string]any{{"a": 1}, {"b": 2}},
	}
	out, err := exec.Execute(context.Background(), newRun(nil), n, input)
	require.NoError(t, err)

	assert.Equal(t, 1, out["a"])
	assert.Equal(t, 2, out["b"])
	assert.NotContains(t, out, node.KeyPaths)
}

func TestMergeConcatenatesItems(t *testing.T) {
	exec := NewMerge()
	n := workflow.Node{ID: "n1", Type: "merge", Parameters: map[string]any{"mode": "concat"}}

	input := map[string]any{
		"items": []any{"c"},
		node.KeyPaths: []map[string]any{
			{"items": []any{"a", "b"}},
			{"items": []any{"c"}},
			{"items": "d"},
		},
	}
	out, err := exec.Execute(context.Background(), newRun(nil), n, input)
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b", "c", "d"}, out["items"])
	assert.NotContains(t, out, node.KeyPaths)
}

func TestMergeConcatCustomField(t *testing.T) {
	exec := NewMerge()
	n := workflow.Node{ID: "n1", Type: "merge", Parameters: map[string]any{"mode": "concat", "field": "rows"}}

	input := map[string]any{
		node.KeyPaths: []any{
			map[string]any{"rows": []any{1.0}},
			map[string]any{"rows": []any{2.0, 3.0}},
		},
	}
	out, err := exec.Execute(context.Background(), newRun(nil), n, input)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, out["rows"])
}

func TestMergeSinglePathPassesThrough(t *testing.T) {
	exec := NewMerge()
	n := workflow.Node{ID: "n1", Type: "merge", Parameters: map[string]any{"mode": "concat"}}

	out, err := exec.Execute(context.Background(), newRun(nil), n, map[string]any{"items": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, out["items"])
}

func TestMergeValidate(t *testing.T) {
	exec := NewMerge()
	assert.Contains(t, exec.Validate(map[string]any{"mode": "zip"}), "mode")
	assert.Empty(t, exec.Validate(map[string]any{"mode": "concat"}))
	assert.Empty(t, exec.Validate(map[string]any{}))
}
