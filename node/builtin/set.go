package builtin

import (
	"context"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/expr"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// Set assigns values into the input map. Config: values (map of key to
// literal or expression). A single ${path} reference preserves the
// referenced value's type; other expressions resolve to typed scalars.
type Set struct{}

// NewSet builds the executor.
func NewSet() *Set { return &Set{} }

// Info returns the node type identity.
func (s *Set) Info() node.Info {
	return node.Info{
		Type:         "set",
		Name:         "Set",
		Category:     node.CategoryData,
		Description:  "Assigns literal or expression-derived values into the data.",
		ConfigSchema: setSchema,
	}
}

// Validate checks the values shape.
func (s *Set) Validate(params map[string]any) map[string]string {
	if v, present := params["values"]; present {
		if _, ok := v.(map[string]any); !ok {
			return map[string]string{"values": "values must be a map"}
		}
	}
	return nil
}

// Execute resolves each configured value against the variable scope and
// assigns it into a copy of the input.
func (s *Set) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	out := copyMap(input)
	values, ok := mapParam(n.Parameters, "values")
	if !ok {
		return out, nil
	}
	ev := expr.New(evalScope(run, input))
	for k, v := range values {
		out[k] = resolveValue(ev, v)
	}
	return out, nil
}

var setSchema = []byte(`{
	"type": "object",
	"properties": {
		"values": {"type": "object"}
	}
}`)
