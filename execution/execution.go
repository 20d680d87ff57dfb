// Package execution defines the records produced by workflow runs (Execution
// and its per-node sub-records), the execution status machine, and the
// per-run Context handed to node executors. Records are created and mutated
// exclusively by the engine; stores hold snapshots.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/nervemind/nervemind/workflow"
)

type (
	// Execution is the record of one end-to-end run of a workflow against a
	// trigger input. Only the engine transitions its status.
	Execution struct {
		// ID uniquely identifies the execution.
		ID string
		// WorkflowID identifies the workflow that ran.
		WorkflowID string
		// ParentID is the id of the execution that spawned this one through
		// a subworkflow node. Empty for top-level runs.
		ParentID string
		// Status is the current lifecycle state.
		Status Status
		// TriggerKind records the stimulus that started the run.
		TriggerKind workflow.TriggerKind
		// StartedAt is when the run was submitted.
		StartedAt time.Time
		// FinishedAt is set exactly when the run reaches a terminal status;
		// zero while the run is active. Readers must tolerate the zero value.
		FinishedAt time.Time
		// InputData is the trigger input the run started with.
		InputData map[string]any
		// OutputData is the output map of the last evaluated non-skipped
		// node in the terminal layer, for successful runs.
		OutputData map[string]any
		// ErrorMessage carries the failure reason for FAILED runs.
		ErrorMessage string
		// NodeExecutions are the per-node records in evaluation order.
		// Skipped nodes are recorded with StatusSkipped.
		NodeExecutions []NodeExecution
	}

	// NodeExecution is the record of one node's evaluation within an
	// execution.
	NodeExecution struct {
		// ID uniquely identifies the record.
		ID string
		// NodeID is the workflow node id.
		NodeID string
		// NodeName is the node display name at run time.
		NodeName string
		// NodeType is the executor type id.
		NodeType string
		// Status is the node outcome.
		Status Status
		// StartedAt is when dispatch began. Zero for skipped nodes.
		StartedAt time.Time
		// FinishedAt is when the node reached its outcome.
		FinishedAt time.Time
		// InputData is the merged input the executor received.
		InputData map[string]any
		// OutputData is the executor output on success.
		OutputData map[string]any
		// ErrorMessage carries the failure reason for FAILED nodes.
		ErrorMessage string
	}

	// Status is a lifecycle state shared by executions and node records.
	Status string

	// Store persists execution records. The engine upserts from the
	// coordinator goroutine only; concurrent readers may observe partial
	// state (missing FinishedAt, growing NodeExecutions).
	Store interface {
		// Upsert inserts or replaces an execution keyed by its ID.
		Upsert(ctx context.Context, ex *Execution) error
		// Load retrieves an execution by id. Returns ErrNotFound when absent.
		Load(ctx context.Context, id string) (*Execution, error)
		// List returns all stored executions in unspecified order.
		List(ctx context.Context) ([]*Execution, error)
	}
)

// Execution lifecycle states. StatusSkipped applies to node records only.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusSkipped   Status = "SKIPPED"
)

// ErrNotFound indicates the requested execution does not exist.
var ErrNotFound = errors.New("execution not found")

// transitions is the execution status machine. Node records do not follow
// it; they move straight to their outcome.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusSuccess, StatusFailed, StatusCancelled, StatusWaiting},
	StatusWaiting: {StatusRunning},
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the status counts as running.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusWaiting
}

// CanTransition reports whether the execution status machine permits moving
// from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the execution to the given status, stamping FinishedAt on
// terminal transitions. It returns an error when the status machine forbids
// the move.
func (e *Execution) Transition(to Status) error {
	if !CanTransition(e.Status, to) {
		return errors.New("invalid status transition " + string(e.Status) + " -> " + string(to))
	}
	e.Status = to
	if to.Terminal() {
		e.FinishedAt = time.Now().UTC()
	}
	return nil
}

// Clone returns a deep copy safe to hand across goroutines.
func (e *Execution) Clone() *Execution {
	cp := *e
	cp.InputData = cloneMap(e.InputData)
	cp.OutputData = cloneMap(e.OutputData)
	cp.NodeExecutions = make([]NodeExecution, len(e.NodeExecutions))
	for i, ne := range e.NodeExecutions {
		cp.NodeExecutions[i] = ne
		cp.NodeExecutions[i].InputData = cloneMap(ne.InputData)
		cp.NodeExecutions[i].OutputData = cloneMap(ne.OutputData)
	}
	return &cp
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
