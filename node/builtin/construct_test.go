package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

func TestConstructExecutePassesInputThrough(t *testing.T) {
	input := map[string]any{"a": 1, "b": "two"}
	for _, exec := range []node.Executor{NewParallel(), NewTryCatch(), NewRetry(), NewRateLimit()} {
		n := workflow.Node{ID: "n1", Type: exec.Info().Type}
		out, err := exec.Execute(context.Background(), newRun(nil), n, input)
		require.NoError(t, err, exec.Info().Type)
		assert.Equal(t, input, out, exec.Info().Type)

		// The output is a copy; the construct must not alias the input map.
		out["a"] = 99
		assert.Equal(t, 1, input["a"], exec.Info().Type)
	}
}

func TestParallelValidate(t *testing.T) {
	exec := NewParallel()
	assert.Contains(t, exec.Validate(map[string]any{"maxConcurrent": 0}), "maxConcurrent")
	assert.Empty(t, exec.Validate(map[string]any{"maxConcurrent": 4}))
	assert.Empty(t, exec.Validate(map[string]any{}))
}

func TestRetryValidate(t *testing.T) {
	exec := NewRetry()
	assert.Contains(t, exec.Validate(map[string]any{"maxAttempts": 0}), "maxAttempts")
	assert.Contains(t, exec.Validate(map[string]any{"delayMs": -5}), "delayMs")
	assert.Contains(t, exec.Validate(map[string]any{"backoff": "quadratic"}), "backoff")
	assert.Empty(t, exec.Validate(map[string]any{"maxAttempts": 3, "delayMs": 100, "backoff": "exponential"}))
	assert.Empty(t, exec.Validate(map[string]any{}))
}

func TestRateLimitValidate(t *testing.T) {
	exec := NewRateLimit()
	problems := exec.Validate(map[string]any{})
	assert.Contains(t, problems, "bucketId")

	problems = exec.Validate(map[string]any{"bucketId": "api", "permitsPerInterval": 0, "intervalMs": 0})
	assert.Contains(t, problems, "permitsPerInterval")
	assert.Contains(t, problems, "intervalMs")

	assert.Empty(t, exec.Validate(map[string]any{"bucketId": "api", "permitsPerInterval": 10, "intervalMs": 1000}))
}
