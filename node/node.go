// Package node defines the executor contract every node type implements and
// the registry the engine resolves node types through. Executors are
// stateless: per-run state travels in the execution context they receive.
package node

import (
	"context"
	"fmt"

	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/workflow"
)

// Node categories group executors for discovery and UI surfaces.
const (
	CategoryTrigger = "trigger"
	CategoryAction  = "action"
	CategoryLogic   = "logic"
	CategoryData    = "data"
	CategoryFlow    = "flow"
	CategoryCode    = "code"
	CategoryAI      = "ai"
)

// Reserved output keys. Executors communicate with the engine through keys
// prefixed with an underscore; everything else in an output map is payload
// and flows to successors untouched.
const (
	// KeyBranch names the output handle control leaves through. Absent
	// means "main". The engine strips it when merging successor inputs.
	KeyBranch = "_branch"
	// KeyWait parks the execution in WAITING until an external stimulus is
	// delivered through the run handle.
	KeyWait = "_wait"
	// KeyItems carries the list a loop construct iterates over.
	KeyItems = "_items"
	// KeyItemVariable names the variable each loop iteration binds the
	// current item to.
	KeyItemVariable = "_itemVariable"
	// KeyPaths carries the per-predecessor input maps in connection
	// declaration order when a node has more than one taken incoming edge.
	// Merge-style executors use it; everyone else sees the flat union.
	KeyPaths = "_paths"
	// Filter meta counters.
	KeyFilteredCount = "_filteredCount"
	KeyOriginalCount = "_originalCount"
	KeyRemovedCount  = "_removedCount"
)

type (
	// Info identifies a node type to the registry and to discovery surfaces.
	Info struct {
		// Type is the unique node type identifier ("httpRequest", "if", ...).
		Type string
		// Name is the human-readable display name.
		Name string
		// Category groups the node type for discovery (see Category constants).
		Category string
		// Description provides human-readable context for builders and tooling.
		Description string
		// TriggerKind is set for trigger nodes and names the trigger family
		// the dispatcher wires them to. Empty for regular nodes.
		TriggerKind workflow.TriggerKind
		// Construct marks node types whose iteration, fan-out or recovery
		// semantics are driven by the engine rather than by Execute alone.
		// Empty for plain executors.
		Construct Construct
		// ConfigSchema optionally carries a JSON schema for the node's
		// parameters. The registry compiles it at registration time and
		// validates parameters against it before Validate runs.
		ConfigSchema []byte
	}

	// Construct enumerates the engine-managed control-flow node kinds.
	Construct string

	// Executor implements one node type. Execute receives the merged input
	// assembled from upstream outputs and returns the node's output map.
	// Implementations must honor ctx cancellation on blocking work.
	Executor interface {
		// Info returns the static identity of the node type.
		Info() Info
		// Validate checks node parameters without executing and returns a
		// map of parameter name to problem description; an empty map means
		// valid. It runs after schema validation and may enforce
		// constraints a schema cannot. Results surface as submit-time
		// diagnostics; they never refuse a run.
		Validate(params map[string]any) map[string]string
		// Execute runs the node. The run context carries logging, variable
		// and credential access scoped to the current execution.
		Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error)
	}

	// LifecycleListener is an optional interface executors implement to be
	// told when executions start and finish. The engine notifies every
	// registered listener once per execution; trigger executors use it to
	// release resources on shutdown.
	LifecycleListener interface {
		ExecutionStarted(ctx context.Context, executionID string)
		ExecutionFinished(ctx context.Context, executionID string, status execution.Status)
	}

	// Error wraps a node failure with the identity error routing needs.
	Error struct {
		// NodeID is the failing node's workflow-unique identifier.
		NodeID string
		// NodeType is the failing node's type identifier.
		NodeType string
		// Err is the underlying failure.
		Err error
	}
)

// Engine-managed constructs.
const (
	ConstructNone      Construct = ""
	ConstructLoop      Construct = "loop"
	ConstructParallel  Construct = "parallel"
	ConstructTryCatch  Construct = "tryCatch"
	ConstructRetry     Construct = "retry"
	ConstructRateLimit Construct = "rateLimit"
)

// NewError wraps err with node identity. It returns nil when err is nil.
func NewError(nodeID, nodeType string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{NodeID: nodeID, NodeType: nodeType, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.NodeType, e.Err)
}

// Unwrap exposes the underlying failure to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }
