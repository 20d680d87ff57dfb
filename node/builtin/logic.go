package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/expr"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// If routes control to the "true" or "false" output handle based on its
// condition. Config: condition (expression or boolean).
type If struct{}

// NewIf builds the executor.
func NewIf() *If { return &If{} }

// Info returns the node type identity.
func (i *If) Info() node.Info {
	return node.Info{
		Type:         "if",
		Name:         "If",
		Category:     node.CategoryLogic,
		Description:  "Routes to the true or false branch based on a condition.",
		ConfigSchema: ifSchema,
	}
}

// Validate flags a missing condition.
func (i *If) Validate(params map[string]any) map[string]string {
	if _, ok := params["condition"]; !ok {
		return map[string]string{"condition": "condition is required"}
	}
	return nil
}

// Execute evaluates the condition and tags the passthrough output with the
// taken branch handle.
func (i *If) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	raw, ok := n.Parameters["condition"]
	if !ok {
		return nil, errors.New("condition is required")
	}
	taken := false
	switch v := raw.(type) {
	case bool:
		taken = v
	case string:
		ev := expr.New(evalScope(run, input))
		taken = expr.Truthy(ev.Evaluate(v))
	default:
		taken = expr.Truthy(expr.Stringify(v))
	}
	out := copyMap(input)
	if taken {
		out[node.KeyBranch] = "true"
	} else {
		out[node.KeyBranch] = "false"
	}
	return out, nil
}

// Switch routes control to the output handle of the first case whose value
// matches the switched value. Config: value (expression), cases
// ([{value, output}]), default (handle name, default "default").
type Switch struct{}

// NewSwitch builds the executor.
func NewSwitch() *Switch { return &Switch{} }

// Info returns the node type identity.
func (s *Switch) Info() node.Info {
	return node.Info{
		Type:         "switch",
		Name:         "Switch",
		Category:     node.CategoryLogic,
		Description:  "Routes to the output handle of the first matching case.",
		ConfigSchema: switchSchema,
	}
}

// Validate checks the cases list shape.
func (s *Switch) Validate(params map[string]any) map[string]string {
	cases, ok := sliceParam(params, "cases")
	if !ok {
		if _, present := params["cases"]; present {
			return map[string]string{"cases": "cases must be a list"}
		}
		return nil
	}
	for idx, c := range cases {
		m, ok := c.(map[string]any)
		if !ok {
			return map[string]string{"cases": fmt.Sprintf("case %d must be an object", idx)}
		}
		if stringOr(m, "output", "") == "" {
			return map[string]string{"cases": fmt.Sprintf("case %d missing output handle", idx)}
		}
	}
	return nil
}

// Execute compares the switched value against each case in order and tags
// the passthrough output with the matched handle, or the default handle
// when nothing matches.
func (s *Switch) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	ev := expr.New(evalScope(run, input))
	subject := stringifyResolved(ev, n.Parameters["value"])

	branch := stringOr(n.Parameters, "default", "default")
	if cases, ok := sliceParam(n.Parameters, "cases"); ok {
		for _, c := range cases {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if stringifyResolved(ev, m["value"]) == subject {
				if out := stringOr(m, "output", ""); out != "" {
					branch = out
					break
				}
			}
		}
	}
	out := copyMap(input)
	out[node.KeyBranch] = branch
	return out, nil
}

// stringifyResolved renders a parameter for comparison, interpolating
// string expressions first.
func stringifyResolved(ev *expr.Evaluator, v any) string {
	if s, ok := v.(string); ok {
		return ev.Evaluate(s)
	}
	return expr.Stringify(v)
}

var ifSchema = []byte(`{
	"type": "object",
	"properties": {
		"condition": {}
	},
	"required": ["condition"]
}`)

var switchSchema = []byte(`{
	"type": "object",
	"properties": {
		"value": {},
		"cases": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"value": {},
					"output": {"type": "string"}
				}
			}
		},
		"default": {"type": "string"}
	}
}`)
