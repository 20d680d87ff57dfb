package builtin

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervemind/nervemind/workflow"
)

func codeNode(language, code string) workflow.Node {
	return workflow.Node{ID: "n1", Type: "code", Parameters: map[string]any{"language": language, "code": code}}
}

func TestCodeJavaScriptTransformsInput(t *testing.T) {
	execNode := NewCode("")
	n := codeNode("javascript", `
		const out = Object.assign({}, input);
		out.doubled = input.value * 2;
		out;
	`)
	out, err := execNode.Execute(context.Background(), newRun(nil), n, map[string]any{"value": int64(21), "label": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out["doubled"])
	assert.Equal(t, "x", out["label"])
}

func TestCodeJavaScriptCannotMutateCallerInput(t *testing.T) {
	execNode := NewCode("")
	n := codeNode("js", `input.hijacked = true; input;`)
	input := map[string]any{"value": 1}
	out, err := execNode.Execute(context.Background(), newRun(nil), n, input)
	require.NoError(t, err)
	assert.Equal(t, true, out["hijacked"])
	assert.NotContains(t, input, "hijacked")
}

func TestCodeJavaScriptRequiresObjectResult(t *testing.T) {
	execNode := NewCode("")
	_, err := execNode.Execute(context.Background(), newRun(nil), codeNode("javascript", `42;`), nil)
	require.EqualError(t, err, "javascript: code must evaluate to an object")
}

func TestCodeJavaScriptSyntaxError(t *testing.T) {
	execNode := NewCode("")
	_, err := execNode.Execute(context.Background(), newRun(nil), codeNode("javascript", `const = ;`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "javascript:")
}

func TestCodeJavaScriptInterruptedOnDeadline(t *testing.T) {
	execNode := NewCode("")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := execNode.Execute(ctx, newRun(nil), codeNode("javascript", `while (true) {}`), nil)
	require.ErrorContains(t, err, "javascript: interrupted")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCodeBlankPassesInputThrough(t *testing.T) {
	execNode := NewCode("")
	n := workflow.Node{ID: "n1", Type: "code", Parameters: map[string]any{"language": "python"}}
	out, err := execNode.Execute(context.Background(), newRun(nil), n, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, out)
}

func TestCodeValidate(t *testing.T) {
	execNode := NewCode("")
	assert.Contains(t, execNode.Validate(map[string]any{"language": "ruby"}), "language")
	for _, lang := range []string{"javascript", "js", "python", "py", ""} {
		assert.Empty(t, execNode.Validate(map[string]any{"language": lang}), lang)
	}
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}
}

func TestCodePythonTransformsInput(t *testing.T) {
	requirePython(t)
	execNode := NewCode("")
	n := codeNode("python", `output = {"total": sum(input["numbers"]), "source": input["source"]}`)
	out, err := execNode.Execute(context.Background(), newRun(nil), n, map[string]any{
		"numbers": []any{1, 2, 3},
		"source":  "test",
	})
	require.NoError(t, err)
	assert.Equal(t, 6.0, out["total"])
	assert.Equal(t, "test", out["source"])
}

func TestCodePythonMutatedInputIsTheResult(t *testing.T) {
	requirePython(t)
	execNode := NewCode("")
	n := codeNode("py", `input["stamped"] = True`)
	out, err := execNode.Execute(context.Background(), newRun(nil), n, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, true, out["stamped"])
	assert.Equal(t, 1.0, out["a"])
}

func TestCodePythonErrorSurfacesException(t *testing.T) {
	requirePython(t)
	execNode := NewCode("")
	n := codeNode("python", `raise ValueError("bad input row")`)
	_, err := execNode.Execute(context.Background(), newRun(nil), n, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "python:")
	assert.Contains(t, err.Error(), "ValueError: bad input row")
}

func TestCodePythonNonDictResultFails(t *testing.T) {
	requirePython(t)
	execNode := NewCode("")
	n := codeNode("python", `output = [1, 2]`)
	_, err := execNode.Execute(context.Background(), newRun(nil), n, nil)
	require.ErrorContains(t, err, "must leave a dict")
}

func TestCodePythonInterruptedOnDeadline(t *testing.T) {
	requirePython(t)
	execNode := NewCode("")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	n := codeNode("python", "import time\ntime.sleep(5)")
	_, err := execNode.Execute(ctx, newRun(nil), n, nil)
	require.ErrorContains(t, err, "python: interrupted")
}

func TestCodeMissingInterpreterFails(t *testing.T) {
	execNode := NewCode("definitely-not-python-9c2e")
	n := codeNode("python", `output = {}`)
	_, err := execNode.Execute(context.Background(), newRun(nil), n, nil)
	require.ErrorContains(t, err, "python:")
}
