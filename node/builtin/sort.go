package builtin

import (
	"context"
	"fmt"
	"sort"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/expr"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// Sort orders a list. Config: field (map items are keyed by it; empty sorts
// scalar items directly), order ("asc" or "desc", default "asc"),
// inputField (default "items") and outputField (default inputField). Items
// compare numerically when both sides are numeric, by rendered string
// otherwise. Ties keep insertion order.
type Sort struct{}

// NewSort builds the executor.
func NewSort() *Sort { return &Sort{} }

// Info returns the node type identity.
func (s *Sort) Info() node.Info {
	return node.Info{
		Type:         "sort",
		Name:         "Sort",
		Category:     node.CategoryData,
		Description:  "Orders list items by a field, ascending or descending.",
		ConfigSchema: sortSchema,
	}
}

// Validate checks the order.
func (s *Sort) Validate(params map[string]any) map[string]string {
	switch stringOr(params, "order", "asc") {
	case "asc", "desc":
		return nil
	default:
		return map[string]string{"order": "order must be asc or desc"}
	}
}

// Execute writes the sorted copy of the configured list.
func (s *Sort) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	params := n.Parameters
	inputField := stringOr(params, "inputField", "items")
	outputField := stringOr(params, "outputField", inputField)
	field := stringOr(params, "field", "")
	descending := stringOr(params, "order", "asc") == "desc"

	items, ok := input[inputField].([]any)
	if !ok {
		return nil, fmt.Errorf("input field %q is not a list", inputField)
	}
	sorted := make([]any, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		less := lessValue(sortKey(sorted[i], field), sortKey(sorted[j], field))
		if descending {
			return lessValue(sortKey(sorted[j], field), sortKey(sorted[i], field))
		}
		return less
	})

	out := copyMap(input)
	out[outputField] = sorted
	return out, nil
}

// sortKey extracts the comparison value for one item.
func sortKey(item any, field string) any {
	if field == "" {
		return item
	}
	if m, ok := item.(map[string]any); ok {
		return m[field]
	}
	return item
}

// lessValue orders numerically when both sides are numeric, by rendered
// string otherwise.
func lessValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa < fb
		}
	}
	return expr.Stringify(a) < expr.Stringify(b)
}

var sortSchema = []byte(`{
	"type": "object",
	"properties": {
		"field": {"type": "string"},
		"order": {"type": "string", "enum": ["asc", "desc"]},
		"inputField": {"type": "string"},
		"outputField": {"type": "string"}
	}
}`)
