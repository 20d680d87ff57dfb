package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Registry maps node type ids to executors. It is safe for concurrent
	// use: the editing surface may register plugin executors while runs are
	// in flight. Running executions keep working against the Snapshot they
	// captured at submission.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]entry
	}

	// Snapshot is the immutable registry view a run resolves node types
	// through. Registrations made after the snapshot was taken are not
	// visible to it.
	Snapshot struct {
		entries map[string]entry
	}

	entry struct {
		exec   Executor
		schema *jsonschema.Schema
	}
)

var (
	// ErrDuplicateType indicates a Register call with an already-registered
	// node type id.
	ErrDuplicateType = errors.New("node type already registered")
	// ErrUnknownType indicates a Resolve call for a type id no executor
	// claims.
	ErrUnknownType = errors.New("unknown node type")
)

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds an executor keyed by its Info().Type. When the executor
// declares a ConfigSchema the schema is compiled here so malformed schemas
// fail at registration rather than at dispatch.
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return errors.New("executor is required")
	}
	info := exec.Info()
	if info.Type == "" {
		return errors.New("executor type id is required")
	}
	schema, err := compileSchema(info.Type, info.ConfigSchema)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[info.Type]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateType, info.Type)
	}
	r.entries[info.Type] = entry{exec: exec, schema: schema}
	return nil
}

// MustRegister registers the executor and panics on error. Intended for
// wiring built-in executors at construction time.
func (r *Registry) MustRegister(exec Executor) {
	if err := r.Register(exec); err != nil {
		panic(err)
	}
}

// Resolve returns the executor for the given node type id.
func (r *Registry) Resolve(typ string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return e.exec, nil
}

// Types returns the registered node type ids, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Infos returns the Info of every registered executor, sorted by type id.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.exec.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Snapshot captures the current registrations. The engine takes one per run
// so registry updates never change the behaviour of in-flight executions.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make(map[string]entry, len(r.entries))
	for t, e := range r.entries {
		entries[t] = e
	}
	return &Snapshot{entries: entries}
}

// Validate applies schema validation followed by the executor's own
// Validate and returns the merged parameter problems. Unknown node types
// report a single "type" problem so submit-time diagnostics stay non-fatal.
func (r *Registry) Validate(typ string, params map[string]any) map[string]string {
	return r.Snapshot().Validate(typ, params)
}

// Executors returns every executor in the snapshot, sorted by type id.
// The engine walks it to notify lifecycle listeners.
func (s *Snapshot) Executors() []Executor {
	out := make([]Executor, 0, len(s.entries))
	types := make([]string, 0, len(s.entries))
	for t := range s.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		out = append(out, s.entries[t].exec)
	}
	return out
}

// Resolve returns the executor for the given node type id.
func (s *Snapshot) Resolve(typ string) (Executor, error) {
	e, ok := s.entries[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return e.exec, nil
}

// Validate applies schema validation followed by the executor's own
// Validate and returns the merged parameter problems.
func (s *Snapshot) Validate(typ string, params map[string]any) map[string]string {
	e, ok := s.entries[typ]
	if !ok {
		return map[string]string{"type": fmt.Sprintf("unknown node type %q", typ)}
	}
	problems := make(map[string]string)
	if e.schema != nil {
		if err := e.schema.Validate(normalizeForSchema(params)); err != nil {
			problems["parameters"] = err.Error()
		}
	}
	for field, msg := range e.exec.Validate(params) {
		problems[field] = msg
	}
	return problems
}

// compileSchema compiles the executor's config schema. Nil schemas are
// allowed and disable schema validation for the type.
func compileSchema(typ string, raw []byte) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("node type %q: unmarshal config schema: %w", typ, err)
	}
	c := jsonschema.NewCompiler()
	resource := typ + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("node type %q: add config schema: %w", typ, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("node type %q: compile config schema: %w", typ, err)
	}
	return schema, nil
}

// normalizeForSchema round-trips the parameter map through JSON so typed Go
// values (int, float32, json.Number) validate the way their wire form would.
func normalizeForSchema(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return params
	}
	return doc
}
