// Package variable defines user-managed variables and the Store capability
// the engine seeds execution scopes from. Global and workflow variables are
// read at run start; execution-scope variables live only inside one run's
// execution context.
package variable

import (
	"context"
	"errors"
)

type (
	// Variable is a named value visible to expressions and executors.
	// Name is unique within (Scope, WorkflowID).
	Variable struct {
		// Name is the reference used in ${name} expressions.
		Name string
		// Value is the variable's current value.
		Value any
		// Type describes the value for editors and validation.
		Type Type
		// Scope determines visibility.
		Scope Scope
		// WorkflowID qualifies workflow-scoped variables. Empty otherwise.
		WorkflowID string
	}

	// Type enumerates variable value kinds.
	Type string

	// Scope enumerates variable visibility levels.
	Scope string

	// Store persists global and workflow variables. Reads are safe for
	// concurrent use; writes are serialised internally. Durable
	// implementations must keep TypeSecret values encrypted at rest.
	Store interface {
		// Upsert inserts or replaces a variable keyed by (scope, workflowID,
		// name).
		Upsert(ctx context.Context, v Variable) error
		// List returns the variables in the given scope, and for
		// ScopeWorkflow the ones belonging to workflowID.
		List(ctx context.Context, scope Scope, workflowID string) ([]Variable, error)
		// Delete removes a variable. Missing variables are not an error.
		Delete(ctx context.Context, scope Scope, workflowID, name string) error
	}
)

// Variable value types.
const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeJSON    Type = "json"
	// TypeSecret values are encrypted at rest by durable stores and are
	// never written to the execution log.
	TypeSecret Type = "secret"
)

// Variable scopes.
const (
	ScopeGlobal    Scope = "global"
	ScopeWorkflow  Scope = "workflow"
	ScopeExecution Scope = "execution"
)

// ErrInvalidScope indicates a store operation with a scope it cannot hold
// (execution-scope variables never reach a Store).
var ErrInvalidScope = errors.New("variable scope not storable")

// NewGlobal builds a global variable.
func NewGlobal(name string, value any, typ Type) Variable {
	return Variable{Name: name, Value: value, Type: typ, Scope: ScopeGlobal}
}

// NewWorkflow builds a workflow-scoped variable.
func NewWorkflow(workflowID, name string, value any, typ Type) Variable {
	return Variable{Name: name, Value: value, Type: typ, Scope: ScopeWorkflow, WorkflowID: workflowID}
}
