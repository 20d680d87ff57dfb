package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/workflow"
)

func TestSetAssignsValues(t *testing.T) {
	exec := NewSet()
	run := newRun(map[string]any{"name": "Alice", "age": 30})
	n := workflow.Node{ID: "n1", Type: "set", Parameters: map[string]any{
		"values": map[string]any{
			"greeting": "Hello ${name}!",
			"age":      "${age}",
			"constant": 7,
			"rows":     "${input.items}",
		},
	}}

	input := map[string]any{"items": []any{"a", "b"}, "untouched": true}
	out, err := exec.Execute(context.Background(), run, n, input)
	require.NoError(t, err)

	assert.Equal(t, "Hello Alice!", out["greeting"])
	assert.Equal(t, 30, out["age"])
	assert.Equal(t, 7, out["constant"])
	assert.Equal(t, []any{"a", "b"}, out["rows"])
	assert.Equal(t, true, out["untouched"])
}

func TestSetMissingReferenceStaysLiteral(t *testing.T) {
	exec := NewSet()
	n := workflow.Node{ID: "n1", Type: "set", Parameters: map[string]any{
		"values": map[string]any{"v": "${missing}"},
	}}
	out, err := exec.Execute(context.Background(), newRun(nil), n, nil)
	require.NoError(t, err)
	assert.Equal(t, "${missing}", out["v"])
}

func TestSetValidate(t *testing.T) {
	exec := NewSet()
	assert.Contains(t, exec.Validate(map[string]any{"values": "nope"}), "values")
	assert.Empty(t, exec.Validate(map[string]any{"values": map[string]any{"a": 1}}))
	assert.Empty(t, exec.Validate(map[string]any{}))
}
