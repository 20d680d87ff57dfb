package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dop251/goja"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// pythonDriver runs user code against a JSON request on stdin and prints
// the resulting map as JSON. User code sees the merged input as `input` and
// leaves its result in `output` (or mutates `input`).
const pythonDriver = `import json, sys, traceback

req = json.load(sys.stdin)
ns = {"input": req.get("input") or {}}
try:
    exec(req.get("code") or "", ns)
except Exception:
    traceback.print_exc()
    sys.exit(1)
out = ns.get("output", ns.get("input"))
if not isinstance(out, dict):
    print("code must leave a dict in 'output' or 'input'", file=sys.stderr)
    sys.exit(1)
json.dump(out, sys.stdout, default=str)
`

// Code evaluates user-supplied scripts. Config: language (javascript or
// python) and code. JavaScript runs in an embedded interpreter with the
// merged input bound as `input`; the script's final expression must be an
// object. Python runs as a python3 subprocess exchanging JSON over
// stdin/stdout. Blank code passes the input through unchanged.
type Code struct {
	python string
}

// NewCode builds the executor. python names the interpreter binary; empty
// resolves "python3" from PATH.
func NewCode(python string) *Code {
	if python == "" {
		python = "python3"
	}
	return &Code{python: python}
}

// Info returns the node type identity.
func (c *Code) Info() node.Info {
	return node.Info{
		Type:         "code",
		Name:         "Code",
		Category:     node.CategoryCode,
		Description:  "Evaluates JavaScript or Python against the node input.",
		ConfigSchema: codeSchema,
	}
}

// Validate flags unsupported languages.
func (c *Code) Validate(params map[string]any) map[string]string {
	lang := strings.ToLower(stringOr(params, "language", "javascript"))
	switch lang {
	case "javascript", "js", "python", "py":
		return nil
	default:
		return map[string]string{"language": fmt.Sprintf("unsupported language %q", lang)}
	}
}

// Execute runs the configured script. Deadlines interrupt the JavaScript
// interpreter and kill the Python subprocess.
func (c *Code) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	code := stringParam(n.Parameters, "code")
	if strings.TrimSpace(code) == "" {
		return copyMap(input), nil
	}
	lang := strings.ToLower(stringOr(n.Parameters, "language", "javascript"))
	switch lang {
	case "javascript", "js":
		return runJavaScript(ctx, code, input)
	case "python", "py":
		return c.runPython(ctx, code, input)
	default:
		return nil, fmt.Errorf("unsupported language %q", lang)
	}
}

func runJavaScript(ctx context.Context, code string, input map[string]any) (map[string]any, error) {
	vm := goja.New()
	if err := vm.Set("input", copyMap(input)); err != nil {
		return nil, fmt.Errorf("javascript: bind input: %w", err)
	}

	// Interrupt the interpreter when the node deadline fires; the watcher
	// exits with the evaluation either way.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := vm.RunString(code)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("javascript: interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("javascript: %w", err)
	}
	exported := val.Export()
	out, ok := exported.(map[string]any)
	if !ok {
		return nil, errors.New("javascript: code must evaluate to an object")
	}
	return out, nil
}

func (c *Code) runPython(ctx context.Context, code string, input map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(map[string]any{"code": code, "input": input})
	if err != nil {
		return nil, fmt.Errorf("python: encode input: %w", err)
	}
	cmd := exec.CommandContext(ctx, c.python, "-c", pythonDriver)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("python: interrupted: %w", ctx.Err())
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return nil, fmt.Errorf("python: %s", msg)
		}
		return nil, fmt.Errorf("python: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("python: decode output: %w", err)
	}
	return out, nil
}

// lastLine extracts the final non-empty line, which for Python tracebacks
// names the exception and for our driver carries the contract violation.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

var codeSchema = []byte(`{
	"type": "object",
	"properties": {
		"language": {"type": "string"},
		"code": {"type": "string"}
	}
}`)
