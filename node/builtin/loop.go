package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/expr"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// Loop marks an iteration construct. Config: items (expression resolving to
// a list) and itemVariableName (default "item"). The executor resolves the
// item list and binding name; the engine runs the dominated body subgraph
// once per item and aggregates the per-iteration outputs in order.
type Loop struct{}

// NewLoop builds the executor.
func NewLoop() *Loop { return &Loop{} }

// Info returns the node type identity.
func (l *Loop) Info() node.Info {
	return node.Info{
		Type:         "loop",
		Name:         "Loop",
		Category:     node.CategoryFlow,
		Description:  "Runs the loop body once per item of a list.",
		Construct:    node.ConstructLoop,
		ConfigSchema: loopSchema,
	}
}

// Validate flags a missing items parameter.
func (l *Loop) Validate(params map[string]any) map[string]string {
	if _, ok := params["items"]; !ok {
		return map[string]string{"items": "items is required"}
	}
	return nil
}

// Execute resolves the item list and publishes it to the engine through the
// reserved output keys.
func (l *Loop) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	items, err := resolveItems(run, input, n.Parameters["items"])
	if err != nil {
		return nil, err
	}
	out := copyMap(input)
	out[node.KeyItems] = items
	out[node.KeyItemVariable] = stringOr(n.Parameters, "itemVariableName", "item")
	return out, nil
}

// resolveItems turns the items parameter into a list: lists pass through,
// string expressions resolve through the variable scope, and JSON array
// literals decode.
func resolveItems(run *execution.Context, input map[string]any, raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, errors.New("items is required")
	case []any:
		return v, nil
	case string:
		ev := expr.New(evalScope(run, input))
		if ref, ok := ev.Reference(v); ok {
			if items, ok := ref.([]any); ok {
				return items, nil
			}
			return nil, errors.New("items must resolve to a list")
		}
		evaluated := strings.TrimSpace(ev.Evaluate(v))
		if strings.HasPrefix(evaluated, "[") {
			var items []any
			if err := json.Unmarshal([]byte(evaluated), &items); err == nil {
				return items, nil
			}
		}
		return nil, errors.New("items must resolve to a list")
	default:
		return nil, errors.New("items must resolve to a list")
	}
}

var loopSchema = []byte(`{
	"type": "object",
	"properties": {
		"items": {},
		"itemVariableName": {"type": "string"}
	},
	"required": ["items"]
}`)
