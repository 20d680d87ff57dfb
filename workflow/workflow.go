// Package workflow defines the authored workflow graph consumed by the
// execution engine: typed nodes connected by directed edges, plus the JSON
// import/export format and the Store capability the engine loads graphs from.
// Workflows are authored elsewhere (editor, samples, API) and are read-only
// for the duration of a run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultHandle is the output/input handle name used when a connection leaves
// the handle unspecified. Conditional executors route to named handles (for
// example the if executor's "true"/"false"); everything else flows over
// "main".
const DefaultHandle = "main"

type (
	// Workflow is a directed graph of nodes authored by a user. The engine
	// treats it as immutable for the duration of a single execution.
	Workflow struct {
		// ID uniquely identifies the workflow. Empty for unsaved drafts.
		ID string
		// Name is the user-visible workflow name.
		Name string
		// Description documents the workflow for catalogs and sample browsers.
		Description string
		// Nodes is the ordered set of nodes. Order is the author's declaration
		// order and is meaningful for deterministic input merging.
		Nodes []Node
		// Connections is the set of directed edges between node handles,
		// in declaration order.
		Connections []Connection
		// Settings carries arbitrary workflow-level configuration (execution
		// timeout, error handling policy, UI hints). The engine reads known
		// keys and ignores the rest.
		Settings map[string]any
		// TriggerKind records the stimulus the workflow is normally started
		// by. Informational; the engine accepts any kind at submission.
		TriggerKind TriggerKind
	}

	// Node is a typed unit of work. Its Type selects the executor that
	// evaluates it.
	Node struct {
		// ID uniquely identifies the node within its workflow. Never blank.
		ID string
		// Type is the executor type id (e.g. "httpRequest", "if"). Never blank.
		Type string
		// Name is the display name shown in consoles and execution records.
		Name string
		// Position is the canvas coordinate. The engine ignores it but the
		// JSON codec round-trips it.
		Position Position
		// Parameters holds the node configuration. Values may contain
		// ${...} expressions interpolated at dispatch time. Never nil; an
		// empty map means "no configuration".
		Parameters map[string]any
		// CredentialID references a credential resolved lazily at dispatch.
		// Empty when the node needs none.
		CredentialID string
		// Disabled nodes are skipped: no executor runs and a SKIPPED record
		// is appended to the execution.
		Disabled bool
		// Notes is free-form author commentary.
		Notes string
	}

	// Connection is a directed edge from a source node's output handle to a
	// target node's input handle.
	Connection struct {
		// ID uniquely identifies the connection.
		ID string
		// SourceNodeID is the node the edge leaves.
		SourceNodeID string
		// SourceOutput is the output handle on the source node. Blank
		// normalises to "main".
		SourceOutput string
		// TargetNodeID is the node the edge enters.
		TargetNodeID string
		// TargetInput is the input handle on the target node. Blank
		// normalises to "main".
		TargetInput string
	}

	// Position is a canvas coordinate pair.
	Position struct {
		X float64
		Y float64
	}

	// TriggerKind enumerates the stimuli that start workflow executions.
	TriggerKind string

	// Store persists workflows. The engine and the trigger dispatcher only
	// ever read; writes come from the editing surface.
	Store interface {
		// Upsert inserts or replaces a workflow keyed by its ID.
		Upsert(ctx context.Context, wf *Workflow) error
		// Load retrieves a workflow by id. Returns ErrNotFound when absent.
		Load(ctx context.Context, id string) (*Workflow, error)
		// List returns all stored workflows in unspecified order.
		List(ctx context.Context) ([]*Workflow, error)
	}
)

// Trigger kinds accepted at submission.
const (
	// TriggerManual is a direct user or API invocation.
	TriggerManual TriggerKind = "manual"
	// TriggerSchedule is a timer or cron tick.
	TriggerSchedule TriggerKind = "schedule"
	// TriggerWebhook is an inbound HTTP request.
	TriggerWebhook TriggerKind = "webhook"
	// TriggerFileEvent is a file-system change.
	TriggerFileEvent TriggerKind = "fileEvent"
)

var (
	// ErrNotFound indicates the requested workflow does not exist.
	ErrNotFound = errors.New("workflow not found")
	// ErrSelfConnection indicates a connection whose source and target are
	// the same node. Such edges are refused at construction time.
	ErrSelfConnection = errors.New("connection source and target are the same node")
)

// NewConnection builds a connection, normalising blank handles to "main".
// Connections from a node to itself are refused.
func NewConnection(id, sourceNodeID, sourceOutput, targetNodeID, targetInput string) (Connection, error) {
	if sourceNodeID == targetNodeID {
		return Connection{}, fmt.Errorf("%w: %q", ErrSelfConnection, sourceNodeID)
	}
	return Connection{
		ID:           id,
		SourceNodeID: sourceNodeID,
		SourceOutput: normalizeHandle(sourceOutput),
		TargetNodeID: targetNodeID,
		TargetInput:  normalizeHandle(targetInput),
	}, nil
}

// NewNode builds a node with a non-nil parameter map.
func NewNode(id, typ, name string, params map[string]any) Node {
	if params == nil {
		params = make(map[string]any)
	}
	return Node{ID: id, Type: typ, Name: name, Parameters: params}
}

// Validate checks the structural invariants: non-blank unique node ids,
// non-blank node types, and connections that reference existing, distinct
// nodes. It returns the first violation found.
func (w *Workflow) Validate() error {
	seen := make(map[string]struct{}, len(w.Nodes))
	for i, n := range w.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("node %d: id is blank", i)
		}
		if strings.TrimSpace(n.Type) == "" {
			return fmt.Errorf("node %q: type is blank", n.ID)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("node id %q is not unique", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for _, c := range w.Connections {
		if c.SourceNodeID == c.TargetNodeID {
			return fmt.Errorf("%w: %q", ErrSelfConnection, c.SourceNodeID)
		}
		if _, ok := seen[c.SourceNodeID]; !ok {
			return fmt.Errorf("connection %q: unknown source node %q", c.ID, c.SourceNodeID)
		}
		if _, ok := seen[c.TargetNodeID]; !ok {
			return fmt.Errorf("connection %q: unknown target node %q", c.ID, c.TargetNodeID)
		}
	}
	return nil
}

// NodeByID returns the node with the given id.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Incoming returns the connections entering the given node, in declaration
// order. Declaration order matters: when multiple predecessors feed the same
// input handle with overlapping keys, later connections win.
func (w *Workflow) Incoming(nodeID string) []Connection {
	var in []Connection
	for _, c := range w.Connections {
		if c.TargetNodeID == nodeID {
			in = append(in, c)
		}
	}
	return in
}

// Outgoing returns the connections leaving the given node, in declaration
// order.
func (w *Workflow) Outgoing(nodeID string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.SourceNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// EntryNodes returns the nodes with no incoming connections, in declaration
// order. A well-formed workflow has exactly one trigger-category entry, but
// multiple entries are tolerated and treated as independent roots.
func (w *Workflow) EntryNodes() []Node {
	hasIncoming := make(map[string]struct{}, len(w.Connections))
	for _, c := range w.Connections {
		hasIncoming[c.TargetNodeID] = struct{}{}
	}
	var entries []Node
	for _, n := range w.Nodes {
		if _, ok := hasIncoming[n.ID]; !ok {
			entries = append(entries, n)
		}
	}
	return entries
}

// Clone returns a deep copy safe to hand to a concurrent run.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		cp.Nodes[i] = n
		cp.Nodes[i].Parameters = cloneMap(n.Parameters)
	}
	cp.Connections = append([]Connection(nil), w.Connections...)
	cp.Settings = cloneMap(w.Settings)
	return &cp
}

func normalizeHandle(h string) string {
	if strings.TrimSpace(h) == "" {
		return DefaultHandle
	}
	return h
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
