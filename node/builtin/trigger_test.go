package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/workflow"
)

func TestTriggerStampsFiringInstant(t *testing.T) {
	exec := NewManualTrigger()
	out, err := exec.Execute(context.Background(), newRun(nil), workflow.Node{ID: "t1", Type: "manualTrigger"},
		map[string]any{"orderId": 42})
	require.NoError(t, err)

	assert.Equal(t, 42, out["orderId"])
	assert.NotEmpty(t, out["triggeredAt"])
}

func TestTriggerKeepsProvidedInstant(t *testing.T) {
	exec := NewWebhookTrigger()
	out, err := exec.Execute(context.Background(), newRun(nil), workflow.Node{ID: "t1", Type: "webhookTrigger"},
		map[string]any{"triggeredAt": "2026-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", out["triggeredAt"])
}

func TestScheduleTriggerValidate(t *testing.T) {
	exec := NewScheduleTrigger()

	assert.Contains(t, exec.Validate(map[string]any{}), "intervalMs")
	assert.Contains(t, exec.Validate(map[string]any{"cron": "not a cron"}), "cron")
	assert.Contains(t, exec.Validate(map[string]any{"intervalMs": -5}), "intervalMs")
	assert.Empty(t, exec.Validate(map[string]any{"intervalMs": 60000}))
	assert.Empty(t, exec.Validate(map[string]any{"cron": "*/5 * * * *"}))
}

func TestFileTriggerValidate(t *testing.T) {
	exec := NewFileTrigger()

	assert.Contains(t, exec.Validate(map[string]any{}), "path")
	assert.Contains(t, exec.Validate(map[string]any{"path": "/tmp", "pattern": "[bad"}), "pattern")
	assert.Empty(t, exec.Validate(map[string]any{"path": "/tmp", "pattern": "**/*.csv"}))
}

func TestTriggerKinds(t *testing.T) {
	assert.Equal(t, workflow.TriggerManual, NewManualTrigger().Info().TriggerKind)
	assert.Equal(t, workflow.TriggerSchedule, NewScheduleTrigger().Info().TriggerKind)
	assert.Equal(t, workflow.TriggerWebhook, NewWebhookTrigger().Info().TriggerKind)
	assert.Equal(t, workflow.TriggerFileEvent, NewFileTrigger().Info().TriggerKind)
}
