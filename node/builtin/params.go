package builtin

import (
	"context"
	"strconv"
	"strings"

	"github.com/nervemind/nervemind/execlog"
	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/expr"
)

// stringParam returns the parameter rendered as a string, empty when absent.
func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return expr.Stringify(v)
}

// stringOr returns the parameter rendered as a string, or def when absent
// or blank.
func stringOr(params map[string]any, key, def string) string {
	if s := strings.TrimSpace(stringParam(params, key)); s != "" {
		return s
	}
	return def
}

// intOr reads an integer parameter tolerant of the types parameters arrive
// in: JSON numbers, expression results and numeric strings.
func intOr(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	if f, ok := toFloat(v); ok {
		return int(f)
	}
	return def
}

// floatOr reads a float parameter with the same tolerance as intOr.
func floatOr(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return def
}

// boolOr reads a boolean parameter, accepting bools and the strings
// "true"/"false" case-insensitively.
func boolOr(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return def
}

// sliceParam returns a list-valued parameter.
func sliceParam(params map[string]any, key string) ([]any, bool) {
	v, ok := params[key]
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

// mapParam returns a map-valued parameter.
func mapParam(params map[string]any, key string) (map[string]any, bool) {
	v, ok := params[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// toFloat coerces the numeric types parameter values arrive in.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// copyMap shallow-copies an input or output map. Nil maps copy to an empty
// map so executors can assign without guards.
func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// evalScope assembles the expression variable scope for one node
// evaluation: the execution-scope variables plus the merged input under
// "input".
func evalScope(run *execution.Context, input map[string]any) map[string]any {
	var vars map[string]any
	if run != nil {
		vars = run.Variables()
	} else {
		vars = make(map[string]any, 1)
	}
	vars["input"] = input
	return vars
}

// resolveValue interpolates a parameter value: non-strings pass through,
// a single ${path} reference preserves the referenced value's type, and
// anything else evaluates to a typed scalar.
func resolveValue(ev *expr.Evaluator, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if !expr.HasExpression(s) {
		return s
	}
	if raw, ok := ev.Reference(s); ok {
		return raw
	}
	return ev.EvaluateTyped(s)
}

// publish emits a log entry on the run's bus, tolerating runs wired without
// one. Handler errors never fail the emitting node.
func publish(ctx context.Context, run *execution.Context, e execlog.Entry) {
	if run == nil || run.Log == nil {
		return
	}
	_ = run.Log.Publish(ctx, e)
}
