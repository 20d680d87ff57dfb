// Package expr implements the expression language used in node parameters:
// ${name} variable references resolved over a variable map, and a fixed
// function library with nested calls. Evaluation never fails; every branch
// returns something renderable. Unknown variables keep their literal
// placeholder and unknown function names render literally.
package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Evaluator interpolates expressions over a fixed variable map. It is pure:
// one instance may be shared by concurrent readers as long as the underlying
// map is not mutated during evaluation.
type Evaluator struct {
	vars map[string]any
}

// maxPasses bounds the function-evaluation fixed-point loop so that
// pathological self-reproducing inputs still terminate.
const maxPasses = 1000

// New constructs an Evaluator over the given variables.
func New(vars map[string]any) *Evaluator {
	if vars == nil {
		vars = map[string]any{}
	}
	return &Evaluator{vars: vars}
}

// Evaluate substitutes ${...} references first, then evaluates function
// calls innermost-first until no known call remains.
func (e *Evaluator) Evaluate(s string) string {
	s = e.substitute(s)
	for i := 0; i < maxPasses; i++ {
		next, changed := evaluateOnce(s)
		if !changed {
			return next
		}
		s = next
	}
	return s
}

// Reference resolves the raw variable value when the trimmed string is
// exactly one ${path} reference, preserving non-scalar values (lists,
// maps). It reports false when the string is anything else or the path
// does not resolve; callers fall back to Evaluate.
func (e *Evaluator) Reference(s string) (any, bool) {
	t := strings.TrimSpace(s)
	if len(t) < 4 || !strings.HasPrefix(t, "${") || t[len(t)-1] != '}' {
		return nil, false
	}
	path := t[2 : len(t)-1]
	if strings.ContainsAny(path, "${}") {
		return nil, false
	}
	return resolvePath(e.vars, path)
}

// EvaluateTyped evaluates the expression and parses the final string as
// int64, then float64, then boolean, otherwise returning the string.
func (e *Evaluator) EvaluateTyped(s string) any {
	out := e.Evaluate(s)
	if n, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(out), 64); err == nil {
		return f
	}
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "true":
		return true
	case "false":
		return false
	}
	return out
}

// HasExpression reports whether the string contains anything the evaluator
// would act on: a ${...} reference or a known function call.
func HasExpression(s string) bool {
	if strings.Contains(s, "${") {
		return true
	}
	for i := 1; i < len(s); i++ {
		if s[i] != '(' {
			continue
		}
		start := i
		for start > 0 && isIdentChar(s[start-1]) {
			start--
		}
		if start == i {
			continue
		}
		if _, ok := functions[s[start:i]]; ok {
			return true
		}
	}
	return false
}

// substitute replaces every ${path} whose dotted path resolves in the
// variable map. Unresolved references stay literal.
func (e *Evaluator) substitute(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start
		b.WriteString(s[:start])
		path := s[start+2 : end]
		if v, ok := resolvePath(e.vars, path); ok {
			b.WriteString(Stringify(v))
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
}

// resolvePath walks a dotted path through successive map lookups.
func resolvePath(vars map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = vars
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// evaluateOnce finds and evaluates the first innermost known function call.
// It reports whether the string changed. Calls with unknown names are left
// in place; an enclosing known call receives their text as a literal
// argument.
func evaluateOnce(s string) (string, bool) {
	type frame struct {
		identStart int
		parenPos   int
	}
	var stack []frame
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(s) && s[i+1] == quote {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			start := i
			for start > 0 && isIdentChar(s[start-1]) {
				start--
			}
			stack = append(stack, frame{identStart: start, parenPos: i})
		case ')':
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			name := s[f.identStart:f.parenPos]
			fn, known := functions[name]
			if !known {
				continue
			}
			args := splitArgs(s[f.parenPos+1 : i])
			out := fn(args)
			return s[:f.identStart] + out + s[i+1:], true
		}
	}
	return s, false
}

// splitArgs splits a call's argument text on commas at paren depth zero
// outside string literals, then trims and unquotes each argument.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var (
		args  []string
		depth int
		quote byte
		cur   strings.Builder
	)
	flush := func() {
		args = append(args, unquote(strings.TrimSpace(cur.String())))
		cur.Reset()
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(s) && s[i+1] == quote {
				cur.WriteByte(s[i+1])
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			cur.WriteByte(c)
		case '(':
			depth++
			cur.WriteByte(c)
		case ')':
			depth--
			cur.WriteByte(c)
		case ',':
			if depth == 0 {
				flush()
				continue
			}
			cur.WriteByte(c)
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return args
}

// unquote strips one level of matched single or double quotes and resolves
// the only supported escape: a backslash before the quote character.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	q := s[0]
	if (q != '\'' && q != '"') || s[len(s)-1] != q {
		return s
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) && body[i+1] == q {
			b.WriteByte(q)
			i++
			continue
		}
		b.WriteByte(body[i])
	}
	return b.String()
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Stringify renders a value the way expressions see it: shortest decimal for
// floats, JSON for maps and slices, empty string for nil.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
