package builtin

import (
	"context"
	"fmt"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// Merge combines multiple incoming paths. Config: mode ("merge" unions the
// path maps in connection order with later paths winning; "concat"
// concatenates the list under field from each path) and field (default
// "items", concat mode only). With a single incoming path both modes pass
// the input through.
type Merge struct{}

// NewMerge builds the executor.
func NewMerge() *Merge { return &Merge{} }

// Info returns the node type identity.
func (m *Merge) Info() node.Info {
	return node.Info{
		Type:         "merge",
		Name:         "Merge",
		Category:     node.CategoryData,
		Description:  "Combines multiple incoming paths by map union or list concatenation.",
		ConfigSchema: mergeSchema,
	}
}

// Validate checks the mode.
func (m *Merge) Validate(params map[string]any) map[string]string {
	switch stringOr(params, "mode", "merge") {
	case "merge", "concat":
		return nil
	default:
		return map[string]string{"mode": fmt.Sprintf("mode must be merge or concat, got %q", stringOr(params, "mode", ""))}
	}
}

// Execute combines the incoming paths. The engine delivers per-path inputs
// under the reserved paths key when more than one edge was taken; the flat
// input is already their union.
func (m *Merge) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	mode := stringOr(n.Parameters, "mode", "merge")
	out := copyMap(input)
	paths := incomingPaths(input)
	delete(out, node.KeyPaths)

	if mode == "merge" {
		return out, nil
	}

	field := stringOr(n.Parameters, "field", "items")
	combined := make([]any, 0)
	for _, path := range paths {
		switch v := path[field].(type) {
		case nil:
		case []any:
			combined = append(combined, v...)
		default:
			combined = append(combined, v)
		}
	}
	out[field] = combined
	return out, nil
}

// incomingPaths returns the per-predecessor input maps, falling back to the
// flat input when the node had a single taken edge.
func incomingPaths(input map[string]any) []map[string]any {
	raw, ok := input[node.KeyPaths]
	if !ok {
		return []map[string]any{input}
	}
	switch v := raw.(type) {
	case []map[string]any:
		return v
	case []any:
		paths := make([]map[string]any, 0, len(v))
		for _, p := range v {
			if m, ok := p.(map[string]any); ok {
				paths = append(paths, m)
			}
		}
		return paths
	default:
		return []map[string]any{input}
	}
}

var mergeSchema = []byte(`{
	"type": "object",
	"properties": {
		"mode": {"type": "string", "enum": ["merge", "concat"]},
		"field": {"type": "string"}
	}
}`)
