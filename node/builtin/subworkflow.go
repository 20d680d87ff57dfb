package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// Subworkflow synchronously runs another workflow by id. Config:
// workflowId. The child run is recorded as its own execution linked to the
// parent; its output map becomes this node's output.
type Subworkflow struct{}

// NewSubworkflow builds the executor.
func NewSubworkflow() *Subworkflow { return &Subworkflow{} }

// Info returns the node type identity.
func (s *Subworkflow) Info() node.Info {
	return node.Info{
		Type:         "subworkflow",
		Name:         "Subworkflow",
		Category:     node.CategoryFlow,
		Description:  "Runs another workflow and returns its output.",
		ConfigSchema: subworkflowSchema,
	}
}

// Validate flags a missing workflow id.
func (s *Subworkflow) Validate(params map[string]any) map[string]string {
	if stringOr(params, "workflowId", "") == "" {
		return map[string]string{"workflowId": "workflowId is required"}
	}
	return nil
}

// Execute delegates to the engine's subworkflow runner.
func (s *Subworkflow) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	id := stringOr(n.Parameters, "workflowId", "")
	if id == "" {
		return nil, errors.New("workflowId is required")
	}
	if run == nil || run.Subworkflows == nil {
		return nil, errors.New("subworkflow execution is not configured")
	}
	out, err := run.Subworkflows.RunSubworkflow(ctx, run, id, input)
	if err != nil {
		return nil, fmt.Errorf("subworkflow %q: %w", id, err)
	}
	return out, nil
}

var subworkflowSchema = []byte(`{
	"type": "object",
	"properties": {
		"workflowId": {"type": "string"}
	},
	"required": ["workflowId"]
}`)
