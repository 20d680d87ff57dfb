package expr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/expr"
)

func testVars() map[string]any {
	return map[string]any{
		"name": "Alice",
		"age":  30,
		"pi":   3.14,
		"ok":   true,
		"user": map[string]any{
			"profile": map[string]any{
				"email": "alice@example.com",
			},
		},
	}
}

func TestEvaluateSubstitution(t *testing.T) {
	ev := expr.New(testVars())

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Hello ${name}!", "Hello Alice!"},
		{"number", "age=${age}", "age=30"},
		{"float", "pi=${pi}", "pi=3.14"},
		{"bool", "ok=${ok}", "ok=true"},
		{"dotted path", "${user.profile.email}", "alice@example.com"},
		{"unknown stays literal", "hi ${missing}", "hi ${missing}"},
		{"unknown path stays literal", "${user.missing.deep}", "${user.missing.deep}"},
		{"no expressions", "plain text", "plain text"},
		{"unterminated reference", "oops ${name", "oops ${name"},
		{"adjacent references", "${name}${age}", "Alice30"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ev.Evaluate(tc.in))
		})
	}
}

func TestEvaluateFunctions(t *testing.T) {
	ev := expr.New(testVars())

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"if true branch", "if(gt(${age},18),'adult','minor')", "adult"},
		{"if false branch", "if(lt(${age},18),'adult','minor')", "minor"},
		{"eq", "eq(${name},'Alice')", "true"},
		{"ne", "ne(${name},'Bob')", "true"},
		{"gt non-numeric is false", "gt('abc',1)", "false"},
		{"lte", "lte(2,2)", "true"},
		{"and", "and('true','1','yes')", "true"},
		{"and short", "and('true','no')", "false"},
		{"or", "or('no','0','yes')", "true"},
		{"not", "not('false')", "true"},
		{"contains", "contains(${user.profile.email},'@example')", "true"},
		{"startsWith", "startsWith(${name},'Al')", "true"},
		{"endsWith", "endsWith(${name},'ce')", "true"},
		{"length runes", "length('héllo')", "5"},
		{"trim", "trim('  x  ')", "x"},
		{"upper", "upper(${name})", "ALICE"},
		{"lower", "lower('GO')", "go"},
		{"concat", "concat('a','b','c')", "abc"},
		{"substring", "substring('hello',1,3)", "el"},
		{"substring clamps", "substring('hi',0,99)", "hi"},
		{"substring start past end", "substring('hi',5)", ""},
		{"replace", "replace('a-b-c','-','+')", "a+b+c"},
		{"split", "split('a,b,c',',')", "[a, b, c]"},
		{"join bracketed", "join(split('a,b,c',','),'-')", "a-b-c"},
		{"toNumber trims zero", "toNumber('3.0')", "3"},
		{"toNumber passthrough", "toNumber('abc')", "abc"},
		{"toString", "toString(${age})", "30"},
		{"toBoolean", "toBoolean('YES')", "true"},
		{"nested calls", "upper(concat('a',lower('B')))", "AB"},
		{"comma inside quotes", "concat('a,b','-c')", "a,b-c"},
		{"escaped quote", `concat('it\'s',' fine')`, "it's fine"},
		{"unknown function literal", "mystery(1,2)", "mystery(1,2)"},
		{"unknown inner becomes literal arg", "concat(mystery(1),'!')", "mystery(1)!"},
		{"bare parens untouched", "(a, b)", "(a, b)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ev.Evaluate(tc.in))
		})
	}
}

func TestEvaluateTyped(t *testing.T) {
	ev := expr.New(testVars())

	assert.Equal(t, int64(30), ev.EvaluateTyped("${age}"))
	assert.Equal(t, 3.14, ev.EvaluateTyped("${pi}"))
	assert.Equal(t, true, ev.EvaluateTyped("gt(${age},18)"))
	assert.Equal(t, false, ev.EvaluateTyped("FALSE"))
	assert.Equal(t, "Alice", ev.EvaluateTyped("${name}"))
	assert.Equal(t, int64(42), ev.EvaluateTyped("42"))
}

func TestReference(t *testing.T) {
	vars := testVars()
	vars["items"] = []any{"a", "b"}
	ev := expr.New(vars)

	// Whole-string references keep the stored value and its type.
	v, ok := ev.Reference("${items}")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)

	v, ok = ev.Reference("${user.profile}")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"email": "alice@example.com"}, v)

	v, ok = ev.Reference("  ${age}  ")
	require.True(t, ok)
	assert.Equal(t, 30, v)

	// Anything other than exactly one reference reports false.
	for _, in := range []string{"", "${}", "hi ${name}", "${name}!", "${a}${b}", "${nested${x}}", "plain"} {
		_, ok := ev.Reference(in)
		assert.False(t, ok, in)
	}

	// Unresolvable paths report false so callers fall back to Evaluate.
	_, ok = ev.Reference("${missing.path}")
	assert.False(t, ok)
}

func TestNow(t *testing.T) {
	ev := expr.New(nil)

	out := ev.Evaluate("now()")
	parsed, err := time.Parse(time.RFC3339, out)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestFormat(t *testing.T) {
	ev := expr.New(nil)

	assert.Equal(t, "2024-03-05", ev.Evaluate("format('2024-03-05T10:20:30Z','yyyy-MM-dd')"))
	assert.Equal(t, "10:20:30", ev.Evaluate("format('2024-03-05T10:20:30Z','HH:mm:ss')"))
	assert.Equal(t, "05/03/2024", ev.Evaluate("format('2024-03-05T10:20:30Z','dd/MM/yyyy')"))
	// Unparseable instants pass through unchanged.
	assert.Equal(t, "not-a-date", ev.Evaluate("format('not-a-date','yyyy')"))
}

func TestHasExpression(t *testing.T) {
	assert.True(t, expr.HasExpression("${x}"))
	assert.True(t, expr.HasExpression("upper('a')"))
	assert.False(t, expr.HasExpression("plain (text)"))
	assert.False(t, expr.HasExpression("if without call"))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "30", expr.Stringify(30))
	assert.Equal(t, "30", expr.Stringify(30.0))
	assert.Equal(t, "3.14", expr.Stringify(3.14))
	assert.Equal(t, "true", expr.Stringify(true))
	assert.Equal(t, "", expr.Stringify(nil))
	assert.Equal(t, `{"a":1}`, expr.Stringify(map[string]any{"a": 1}))
	assert.Equal(t, `[1,2]`, expr.Stringify([]any{1, 2}))
}
