package builtin

import (
	"context"
	"fmt"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// The flow constructs below carry their semantics in the engine: the
// construct marker on Info tells it to take over iteration, fan-out,
// recovery or throttling for the node's dominated subgraph. Execute is the
// degenerate case of a construct with nothing to manage and passes the
// input through.

// Parallel fans its branch subgraphs out concurrently. Config:
// maxConcurrent (optional cap, default engine worker pool).
type Parallel struct{}

// NewParallel builds the executor.
func NewParallel() *Parallel { return &Parallel{} }

// Info returns the node type identity.
func (p *Parallel) Info() node.Info {
	return node.Info{
		Type:         "parallel",
		Name:         "Parallel",
		Category:     node.CategoryFlow,
		Description:  "Runs branch subgraphs concurrently and joins their outputs.",
		Construct:    node.ConstructParallel,
		ConfigSchema: parallelSchema,
	}
}

// Validate checks the concurrency cap.
func (p *Parallel) Validate(params map[string]any) map[string]string {
	if _, present := params["maxConcurrent"]; present && intOr(params, "maxConcurrent", 0) < 1 {
		return map[string]string{"maxConcurrent": "maxConcurrent must be at least 1"}
	}
	return nil
}

// Execute passes the input through; branch dispatch happens in the engine.
func (p *Parallel) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	return copyMap(input), nil
}

// TryCatch wraps a subgraph: failures inside the try handle route control
// to the catch handle with {error, nodeId} injected.
type TryCatch struct{}

// NewTryCatch builds the executor.
func NewTryCatch() *TryCatch { return &TryCatch{} }

// Info returns the node type identity.
func (t *TryCatch) Info() node.Info {
	return node.Info{
		Type:        "tryCatch",
		Name:        "Try/Catch",
		Category:    node.CategoryFlow,
		Description: "Recovers from failures in the try branch through the catch branch.",
		Construct:   node.ConstructTryCatch,
	}
}

// Validate accepts any parameters.
func (t *TryCatch) Validate(params map[string]any) map[string]string { return nil }

// Execute passes the input through; recovery routing happens in the engine.
func (t *TryCatch) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	return copyMap(input), nil
}

// Retry re-runs its single child on failure. Config: maxAttempts (default
// 3), delayMs (default 1000), backoff ("fixed", "linear" or "exponential",
// default "fixed").
type Retry struct{}

// NewRetry builds the executor.
func NewRetry() *Retry { return &Retry{} }

// Info returns the node type identity.
func (r *Retry) Info() node.Info {
	return node.Info{
		Type:         "retry",
		Name:         "Retry",
		Category:     node.CategoryFlow,
		Description:  "Re-runs the wrapped node on failure with configurable backoff.",
		Construct:    node.ConstructRetry,
		ConfigSchema: retrySchema,
	}
}

// Validate checks attempts, delay and backoff.
func (r *Retry) Validate(params map[string]any) map[string]string {
	problems := make(map[string]string)
	if _, present := params["maxAttempts"]; present && intOr(params, "maxAttempts", 0) < 1 {
		problems["maxAttempts"] = "maxAttempts must be at least 1"
	}
	if _, present := params["delayMs"]; present && intOr(params, "delayMs", -1) < 0 {
		problems["delayMs"] = "delayMs must be a non-negative number of milliseconds"
	}
	switch stringOr(params, "backoff", "fixed") {
	case "fixed", "linear", "exponential":
	default:
		problems["backoff"] = fmt.Sprintf("backoff must be fixed, linear or exponential, got %q", stringOr(params, "backoff", ""))
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// Execute passes the input through; attempt management happens in the
// engine.
func (r *Retry) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	return copyMap(input), nil
}

// RateLimit gates its child behind a process-wide token bucket. Config:
// bucketId (required; buckets are shared across executions),
// permitsPerInterval (default 1) and intervalMs (default 1000).
type RateLimit struct{}

// NewRateLimit builds the executor.
func NewRateLimit() *RateLimit { return &RateLimit{} }

// Info returns the node type identity.
func (r *RateLimit) Info() node.Info {
	return node.Info{
		Type:         "rateLimit",
		Name:         "Rate Limit",
		Category:     node.CategoryFlow,
		Description:  "Throttles the wrapped node through a shared token bucket.",
		Construct:    node.ConstructRateLimit,
		ConfigSchema: rateLimitSchema,
	}
}

// Validate checks the bucket configuration.
func (r *RateLimit) Validate(params map[string]any) map[string]string {
	problems := make(map[string]string)
	if stringOr(params, "bucketId", "") == "" {
		problems["bucketId"] = "bucketId is required"
	}
	if _, present := params["permitsPerInterval"]; present && intOr(params, "permitsPerInterval", 0) < 1 {
		problems["permitsPerInterval"] = "permitsPerInterval must be at least 1"
	}
	if _, present := params["intervalMs"]; present && intOr(params, "intervalMs", 0) < 1 {
		problems["intervalMs"] = "intervalMs must be at least 1"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// Execute passes the input through; permit acquisition happens in the
// engine.
func (r *RateLimit) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	return copyMap(input), nil
}

var parallelSchema = []byte(`{
	"type": "object",
	"properties": {
		"maxConcurrent": {"type": ["number", "string"]}
	}
}`)

var retrySchema = []byte(`{
	"type": "object",
	"properties": {
		"maxAttempts": {"type": ["number", "string"]},
		"delayMs": {"type": ["number", "string"]},
		"backoff": {"type": "string", "enum": ["fixed", "linear", "exponential"]}
	}
}`)

var rateLimitSchema = []byte(`{
	"type": "object",
	"properties": {
		"bucketId": {"type": "string"},
		"permitsPerInterval": {"type": ["number", "string"]},
		"intervalMs": {"type": ["number", "string"]}
	},
	"required": ["bucketId"]
}`)
