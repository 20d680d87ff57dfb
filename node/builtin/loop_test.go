package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

func TestLoopResolvesLiteralItems(t *testing.T) {
	exec := NewLoop()
	n := workflow.Node{ID: "n1", Type: "loop", Parameters: map[string]any{
		"items":            []any{"a", "b", "c"},
		"itemVariableName": "letter",
	}}
	out, err := exec.Execute(context.Background(), newRun(nil), n, map[string]any{"seed": 1})
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b", "c"}, out[node.KeyItems])
	assert.Equal(t, "letter", out[node.KeyItemVariable])
	assert.Equal(t, 1, out["seed"])
}

func TestLoopResolvesReferenceItems(t *testing.T) {
	exec := NewLoop()
	n := workflow.Node{ID: "n1", Type: "loop", Parameters: map[string]any{"items": "${input.rows}"}}
	input := map[string]any{"rows": []any{1.0, 2.0}}

	out, err := exec.Execute(context.Background(), newRun(nil), n, input)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out[node.KeyItems])
	assert.Equal(t, "item", out[node.KeyItemVariable])
}

func TestLoopResolvesJSONLiteralItems(t *testing.T) {
	exec := NewLoop()
	n := workflow.Node{ID: "n1", Type: "loop", Parameters: map[string]any{"items": `[1, 2, 3]`}}
	out, err := exec.Execute(context.Background(), newRun(nil), n, nil)
	require.NoError(t, err)
	assert.Len(t, out[node.KeyItems], 3)
}

func TestLoopRejectsNonListItems(t *testing.T) {
	exec := NewLoop()
	for _, items := range []any{nil, 42, "${input.scalar}", "plain text"} {
		n := workflow.Node{ID: "n1", Type: "loop", Parameters: map[string]any{"items": items}}
		_, err := exec.Execute(context.Background(), newRun(nil), n, map[string]any{"scalar": 7})
		require.Error(t, err, "items=%v", items)
	}
}

func TestLoopValidate(t *testing.T) {
	exec := NewLoop()
	assert.Contains(t, exec.Validate(map[string]any{}), "items")
	assert.Empty(t, exec.Validate(map[string]any{"items": "${input.rows}"}))
}
