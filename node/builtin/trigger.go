package builtin

import (
	"context"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/robfig/cron/v3"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// Trigger is the executor behind the trigger node types. Trigger nodes are
// entries: the dispatcher delivers the stimulus as the run's trigger input
// and the node stamps it with the firing instant. Scheduling, webhook
// registration and file watching happen in the trigger dispatcher, not here.
type Trigger struct {
	info     node.Info
	validate func(params map[string]any) map[string]string
}

// NewManualTrigger builds the executor for direct user or API invocations.
func NewManualTrigger() *Trigger {
	return &Trigger{info: node.Info{
		Type:        "manualTrigger",
		Name:        "Manual Trigger",
		Category:    node.CategoryTrigger,
		Description: "Starts the workflow when invoked directly.",
		TriggerKind: workflow.TriggerManual,
	}}
}

// NewScheduleTrigger builds the executor for timer and cron stimuli. Config:
// either intervalMs or a five-field cron expression.
func NewScheduleTrigger() *Trigger {
	return &Trigger{
		info: node.Info{
			Type:         "scheduleTrigger",
			Name:         "Schedule Trigger",
			Category:     node.CategoryTrigger,
			Description:  "Starts the workflow on a fixed interval or cron expression.",
			TriggerKind:  workflow.TriggerSchedule,
			ConfigSchema: scheduleTriggerSchema,
		},
		validate: validateSchedule,
	}
}

// NewWebhookTrigger builds the executor for inbound HTTP stimuli. Config:
// webhookId (path segment the dispatcher serves the hook under).
func NewWebhookTrigger() *Trigger {
	return &Trigger{info: node.Info{
		Type:         "webhookTrigger",
		Name:         "Webhook Trigger",
		Category:     node.CategoryTrigger,
		Description:  "Starts the workflow when its webhook receives a request.",
		TriggerKind:  workflow.TriggerWebhook,
		ConfigSchema: webhookTriggerSchema,
	}}
}

// NewFileTrigger builds the executor for file-system stimuli. Config: path
// to watch plus an optional doublestar pattern and event filter.
func NewFileTrigger() *Trigger {
	return &Trigger{
		info: node.Info{
			Type:         "fileTrigger",
			Name:         "File Trigger",
			Category:     node.CategoryTrigger,
			Description:  "Starts the workflow when files under a watched path change.",
			TriggerKind:  workflow.TriggerFileEvent,
			ConfigSchema: fileTriggerSchema,
		},
		validate: validateFileTrigger,
	}
}

// Info returns the node type identity.
func (t *Trigger) Info() node.Info { return t.info }

// Validate applies the trigger-kind specific parameter checks.
func (t *Trigger) Validate(params map[string]any) map[string]string {
	if t.validate == nil {
		return nil
	}
	return t.validate(params)
}

// Execute stamps the trigger input with the firing instant and passes it
// through. The stimulus payload arrives as the node input.
func (t *Trigger) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	out := copyMap(input)
	if _, ok := out["triggeredAt"]; !ok {
		out["triggeredAt"] = time.Now().UTC().Format(time.RFC3339)
	}
	return out, nil
}

func validateSchedule(params map[string]any) map[string]string {
	problems := make(map[string]string)
	interval := intOr(params, "intervalMs", 0)
	cronExpr := stringOr(params, "cron", "")
	if interval <= 0 && cronExpr == "" {
		problems["intervalMs"] = "either intervalMs or cron is required"
	}
	if _, ok := params["intervalMs"]; ok && interval <= 0 {
		problems["intervalMs"] = "intervalMs must be a positive number of milliseconds"
	}
	if cronExpr != "" {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			problems["cron"] = "invalid cron expression: " + err.Error()
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

func validateFileTrigger(params map[string]any) map[string]string {
	problems := make(map[string]string)
	if stringOr(params, "path", "") == "" {
		problems["path"] = "path is required"
	}
	if pattern := stringOr(params, "pattern", ""); pattern != "" && !doublestar.ValidatePattern(pattern) {
		problems["pattern"] = "invalid glob pattern"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

var scheduleTriggerSchema = []byte(`{
	"type": "object",
	"properties": {
		"intervalMs": {"type": ["number", "string"]},
		"cron": {"type": "string"}
	}
}`)

var webhookTriggerSchema = []byte(`{
	"type": "object",
	"properties": {
		"webhookId": {"type": "string"}
	}
}`)

var fileTriggerSchema = []byte(`{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"pattern": {"type": "string"},
		"events": {"type": "array", "items": {"type": "string"}}
	}
}`)
