package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/expr"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// filterOperators are the supported per-condition comparisons.
var filterOperators = map[string]bool{
	"equals": true, "ne": true, "gt": true, "lt": true, "gte": true,
	"lte": true, "contains": true, "startsWith": true, "endsWith": true,
}

// Filter keeps or drops list items by field conditions. Config: inputField
// (default "items"), outputField (default inputField), conditions
// ([{field, operator, value}]), combineWith ("and" or "or", default "and")
// and keepMatching (default true). All other input keys pass through; the
// output additionally carries the three count meta keys and
// originalCount == filteredCount + removedCount always holds.
type Filter struct{}

// NewFilter builds the executor.
func NewFilter() *Filter { return &Filter{} }

// Info returns the node type identity.
func (f *Filter) Info() node.Info {
	return node.Info{
		Type:         "filter",
		Name:         "Filter",
		Category:     node.CategoryData,
		Description:  "Keeps or removes list items matching field conditions.",
		ConfigSchema: filterSchema,
	}
}

// Validate checks operators and the combine mode.
func (f *Filter) Validate(params map[string]any) map[string]string {
	problems := make(map[string]string)
	if conditions, ok := sliceParam(params, "conditions"); ok {
		for idx, c := range conditions {
			m, ok := c.(map[string]any)
			if !ok {
				problems["conditions"] = fmt.Sprintf("condition %d must be an object", idx)
				break
			}
			if op := stringOr(m, "operator", "equals"); !filterOperators[op] {
				problems["conditions"] = fmt.Sprintf("condition %d has unsupported operator %q", idx, op)
				break
			}
		}
	}
	switch stringOr(params, "combineWith", "and") {
	case "and", "or":
	default:
		problems["combineWith"] = "combineWith must be and or or"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// Execute partitions the configured list and writes the kept items plus the
// count meta keys.
func (f *Filter) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	params := n.Parameters
	inputField := stringOr(params, "inputField", "items")
	outputField := stringOr(params, "outputField", inputField)

	items, ok := input[inputField].([]any)
	if !ok {
		return nil, fmt.Errorf("input field %q is not a list", inputField)
	}
	conditions, _ := sliceParam(params, "conditions")
	combineAnd := stringOr(params, "combineWith", "and") != "or"
	keepMatching := boolOr(params, "keepMatching", true)

	kept := make([]any, 0, len(items))
	for _, item := range items {
		if matches(item, conditions, combineAnd) == keepMatching {
			kept = append(kept, item)
		}
	}

	out := copyMap(input)
	out[outputField] = kept
	out[node.KeyOriginalCount] = len(items)
	out[node.KeyFilteredCount] = len(kept)
	out[node.KeyRemovedCount] = len(items) - len(kept)
	return out, nil
}

// matches evaluates the conditions against one item. No conditions match
// everything.
func matches(item any, conditions []any, combineAnd bool) bool {
	if len(conditions) == 0 {
		return true
	}
	for _, c := range conditions {
		cond, ok := c.(map[string]any)
		if !ok {
			continue
		}
		hit := evalCondition(item, cond)
		if combineAnd && !hit {
			return false
		}
		if !combineAnd && hit {
			return true
		}
	}
	return combineAnd
}

func evalCondition(item any, cond map[string]any) bool {
	field := stringOr(cond, "field", "")
	var fieldVal any
	if field == "" {
		fieldVal = item
	} else {
		m, ok := item.(map[string]any)
		if !ok {
			return false
		}
		fieldVal, ok = m[field]
		if !ok {
			return false
		}
	}
	return compare(stringOr(cond, "operator", "equals"), fieldVal, cond["value"])
}

// compare applies one operator. Ordering operators require both sides to be
// numeric; unparseable operands compare false.
func compare(op string, a, b any) bool {
	switch op {
	case "equals":
		return looseEqual(a, b)
	case "ne":
		return !looseEqual(a, b)
	case "gt", "lt", "gte", "lte":
		fa, oka := toFloat(a)
		fb, okb := toFloat(b)
		if !oka || !okb {
			return false
		}
		switch op {
		case "gt":
			return fa > fb
		case "lt":
			return fa < fb
		case "gte":
			return fa >= fb
		default:
			return fa <= fb
		}
	case "contains":
		return strings.Contains(expr.Stringify(a), expr.Stringify(b))
	case "startsWith":
		return strings.HasPrefix(expr.Stringify(a), expr.Stringify(b))
	case "endsWith":
		return strings.HasSuffix(expr.Stringify(a), expr.Stringify(b))
	default:
		return false
	}
}

// looseEqual equates numerically when both sides are numbers and by
// rendered string otherwise, so 2 == 2.0 and "active" == "active".
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return expr.Stringify(a) == expr.Stringify(b)
}

var filterSchema = []byte(`{
	"type": "object",
	"properties": {
		"inputField": {"type": "string"},
		"outputField": {"type": "string"},
		"conditions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"field": {"type": "string"},
					"operator": {"type": "string"},
					"value": {}
				}
			}
		},
		"combineWith": {"type": "string", "enum": ["and", "or"]},
		"keepMatching": {"type": ["boolean", "string"]}
	}
}`)
