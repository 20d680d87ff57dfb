package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/expr"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// ExecuteCommand runs a local process. Config: command (required), args
// (list), dir (working directory), env (map merged over the inherited
// environment), timeout in milliseconds. A non-zero exit is not a node
// failure; the output carries {stdout, stderr, exitCode} either way.
// Failing to start (missing binary, bad dir) or hitting the deadline fails
// the node.
type ExecuteCommand struct{}

// NewExecuteCommand builds the executor.
func NewExecuteCommand() *ExecuteCommand { return &ExecuteCommand{} }

// Info returns the node type identity.
func (e *ExecuteCommand) Info() node.Info {
	return node.Info{
		Type:         "executeCommand",
		Name:         "Execute Command",
		Category:     node.CategoryAction,
		Description:  "Runs a local command and captures stdout, stderr and the exit code.",
		ConfigSchema: executeCommandSchema,
	}
}

// Validate flags a missing command and malformed timeouts.
func (e *ExecuteCommand) Validate(params map[string]any) map[string]string {
	problems := make(map[string]string)
	if stringOr(params, "command", "") == "" {
		problems["command"] = "command is required"
	}
	if _, ok := params["timeout"]; ok && intOr(params, "timeout", -1) < 0 {
		problems["timeout"] = "timeout must be a non-negative number of milliseconds"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// Execute runs the command under the node deadline.
func (e *ExecuteCommand) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	params := n.Parameters
	command := stringOr(params, "command", "")
	if command == "" {
		return nil, errors.New("command is required")
	}
	if ms := intOr(params, "timeout", 0); ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	var args []string
	if raw, ok := sliceParam(params, "args"); ok {
		args = make([]string, len(raw))
		for i, a := range raw {
			args[i] = expr.Stringify(a)
		}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = stringOr(params, "dir", "")
	if env, ok := mapParam(params, "env"); ok && len(env) > 0 {
		cmd.Env = cmd.Environ()
		for k := range env {
			cmd.Env = append(cmd.Env, k+"="+stringParam(env, k))
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("command timed out: %w", ctx.Err())
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	out := copyMap(input)
	out["stdout"] = stdout.String()
	out["stderr"] = stderr.String()
	out["exitCode"] = exitCode
	return out, nil
}

var executeCommandSchema = []byte(`{
	"type": "object",
	"properties": {
		"command": {"type": "string"},
		"args": {"type": "array"},
		"dir": {"type": "string"},
		"env": {"type": "object"},
		"timeout": {"type": ["number", "string"]}
	},
	"required": ["command"]
}`)
