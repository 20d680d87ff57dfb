package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nervemind/nervemind/credential"
	"github.com/nervemind/nervemind/execlog"
	"github.com/nervemind/nervemind/workflow"
)

type (
	// Context is the per-run state bag the engine owns for the duration of
	// an execution and hands to node executors read-mostly. Node outputs,
	// execution-scope variables and per-run counters accumulate here and
	// nowhere else. Executors may set execution-scope variables but must not
	// mutate the workflow graph.
	Context struct {
		// ExecutionID identifies the run.
		ExecutionID string
		// Workflow is the graph being executed. Read-only.
		Workflow *workflow.Workflow
		// TriggerKind is the stimulus that started the run.
		TriggerKind workflow.TriggerKind
		// TriggerInput is the initial input delivered by the trigger.
		TriggerInput map[string]any
		// Log is the execution log bus every component publishes to.
		Log execlog.Bus
		// Credentials resolves credential ids on executor request. Resolved
		// material must never be published to the log.
		Credentials credential.Resolver
		// Subworkflows runs child workflows on behalf of the subworkflow
		// executor. Nil when the engine was built without a workflow store.
		Subworkflows SubworkflowRunner
		// Depth is the subworkflow nesting depth; zero for top-level runs.
		Depth int
		// Chain lists the workflow ids from the top-level run down to this
		// one, used to reject recursive subworkflow cycles.
		Chain []string
		// Counters accumulates per-run statistics.
		Counters Counters

		mu        sync.RWMutex
		outputs   map[string]map[string]any
		variables map[string]any
		cancelled atomic.Bool
	}

	// SubworkflowRunner synchronously runs another workflow by id on behalf
	// of an executor. The child execution is recorded but not top-level.
	SubworkflowRunner interface {
		RunSubworkflow(ctx context.Context, parent *Context, workflowID string, input map[string]any) (map[string]any, error)
	}

	// Counters tracks per-run statistics. All fields are safe for
	// concurrent update.
	Counters struct {
		// NodesExecuted counts executor invocations that completed.
		NodesExecuted atomic.Int64
		// NodesSkipped counts disabled or unreachable nodes.
		NodesSkipped atomic.Int64
		// NodesFailed counts failed executor invocations.
		NodesFailed atomic.Int64
		// Retries counts retry re-attempts.
		Retries atomic.Int64
		// RateLimitWaits counts rate-limit bucket waits.
		RateLimitWaits atomic.Int64
	}
)

// NewContext builds the state bag for one run. Variables seed the
// execution-scope map (global and workflow variables resolved by the engine
// at run start); the map is copied so callers retain ownership of theirs.
func NewContext(executionID string, wf *workflow.Workflow, kind workflow.TriggerKind, input map[string]any, vars map[string]any, log execlog.Bus) *Context {
	seeded := make(map[string]any, len(vars))
	for k, v := range vars {
		seeded[k] = v
	}
	return &Context{
		ExecutionID:  executionID,
		Workflow:     wf,
		TriggerKind:  kind,
		TriggerInput: input,
		Log:          log,
		outputs:      make(map[string]map[string]any),
		variables:    seeded,
	}
}

// SetOutput records a node's output map. Engine use only.
func (c *Context) SetOutput(nodeID string, output map[string]any) {
	c.mu.Lock()
	c.outputs[nodeID] = output
	c.mu.Unlock()
}

// Output returns the recorded output of a node.
func (c *Context) Output(nodeID string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[nodeID]
	return out, ok
}

// SetVariable sets an execution-scope variable. Executors may call this.
func (c *Context) SetVariable(name string, value any) {
	c.mu.Lock()
	c.variables[name] = value
	c.mu.Unlock()
}

// Variable returns the named variable from the merged scope.
func (c *Context) Variable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// Variables returns a snapshot of the merged variable scope, suitable for
// expression evaluation.
func (c *Context) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// Cancel flips the cooperative cancellation flag. The engine checks it
// before dispatching each node, before retry attempts, before parallel-branch
// joins, and on rate-limit or backoff wake.
func (c *Context) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load()
}

// Child derives a context for a subworkflow run sharing the log bus,
// credential resolver and runner, one nesting level deeper.
func (c *Context) Child(executionID string, wf *workflow.Workflow, input map[string]any, vars map[string]any) *Context {
	child := NewContext(executionID, wf, c.TriggerKind, input, vars, c.Log)
	child.Credentials = c.Credentials
	child.Subworkflows = c.Subworkflows
	child.Depth = c.Depth + 1
	child.Chain = append(append([]string(nil), c.Chain...), wf.ID)
	if c.Cancelled() {
		child.Cancel()
	}
	return child
}
