// Package engine implements the workflow execution engine: topological
// dispatch over the workflow graph, parameter interpolation, the
// engine-managed constructs (loop, parallel, tryCatch, retry, rateLimit),
// per-node deadlines, step-debug suspension and cooperative cancellation.
// One engine drives any number of concurrent executions; each run gets its
// own coordinator goroutine and reports through a Run handle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nervemind/nervemind/credential"
	"github.com/nervemind/nervemind/execlog"
	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/telemetry"
	"github.com/nervemind/nervemind/variable"
	"github.com/nervemind/nervemind/workflow"
)

// Engine executes workflows. Construct it with New; the zero value is not
// usable.
type Engine struct {
	cfg         Config
	registry    *node.Registry
	bus         execlog.Bus
	logger      telemetry.Logger
	metrics     telemetry.Metrics
	tracer      telemetry.Tracer
	executions  execution.Store
	workflows   workflow.Store
	variables   variable.Store
	credentials credential.Resolver
	buckets     *Buckets

	// baseCtx parents every run so submissions outlive their caller's
	// context. baseStop force-cancels survivors at the end of Shutdown.
	baseCtx  context.Context
	baseStop context.CancelFunc

	mu     sync.Mutex
	closed bool
	active map[string]*Run
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the operational logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithBus sets the execution log bus. Engines default to a private bus;
// hosts that surface live consoles pass their own and subscribe to it.
func WithBus(b execlog.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithExecutionStore persists execution records.
func WithExecutionStore(s execution.Store) Option {
	return func(e *Engine) { e.executions = s }
}

// WithWorkflowStore lets subworkflow nodes load child workflows by id.
func WithWorkflowStore(s workflow.Store) Option {
	return func(e *Engine) { e.workflows = s }
}

// WithVariableStore seeds run variable scopes from global and workflow
// variables.
func WithVariableStore(s variable.Store) Option {
	return func(e *Engine) { e.variables = s }
}

// WithCredentials resolves node credential references at dispatch.
func WithCredentials(r credential.Resolver) Option {
	return func(e *Engine) { e.credentials = r }
}

// WithBuckets replaces the process-wide rate-limit bucket registry. Tests
// use it to isolate buckets.
func WithBuckets(b *Buckets) Option {
	return func(e *Engine) { e.buckets = b }
}

// New constructs an engine resolving node types through the given registry.
func New(registry *node.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:      DefaultConfig(),
		registry: registry,
		bus:      execlog.NewBus(),
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		tracer:   telemetry.NewNoopTracer(),
		buckets:  defaultBuckets,
		active:   make(map[string]*Run),
	}
	e.baseCtx, e.baseStop = context.WithCancel(context.Background())
	for _, o := range opts {
		o(e)
	}
	if e.cfg.WorkerPoolSize < 1 {
		e.cfg.WorkerPoolSize = 1
	}
	return e
}

// Bus returns the execution log bus runs publish to.
func (e *Engine) Bus() execlog.Bus { return e.bus }

// Submit starts a run of the workflow against the trigger input and returns
// immediately with its handle. The run is driven by a coordinator goroutine
// parented on the engine, not on ctx; ctx only scopes the synchronous part
// of submission (variable seeding). Submit-time diagnostics are published as
// warnings; they never refuse the run.
func (e *Engine) Submit(ctx context.Context, wf *workflow.Workflow, kind workflow.TriggerKind, input map[string]any, opts ...SubmitOption) (*Run, error) {
	if wf == nil || len(wf.Nodes) == 0 {
		return nil, errors.New("workflow has no nodes")
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	var so submitOptions
	for _, o := range opts {
		o(&so)
	}

	wf = wf.Clone()
	snap := e.registry.Snapshot()
	vars, err := e.seedVariables(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("seed variables: %w", err)
	}

	execID := uuid.NewString()
	rctx := execution.NewContext(execID, wf, kind, input, varMap(vars), e.bus)
	rctx.Credentials = e.credentials
	rctx.Chain = []string{wf.ID}
	if e.workflows != nil {
		rctx.Subworkflows = e
	}

	ex := &execution.Execution{
		ID:          execID,
		WorkflowID:  wf.ID,
		Status:      execution.StatusPending,
		TriggerKind: kind,
		StartedAt:   time.Now().UTC(),
		InputData:   cloneAnyMap(input),
	}

	run := newRun(execID, rctx, so)
	runCtx, cancel := e.newRunContext(wf, so)
	run.cancelCtx = cancel

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return nil, errors.New("engine is shut down")
	}
	e.active[execID] = run
	e.wg.Add(1)
	e.metrics.RecordGauge(telemetry.MetricActiveExecutions, float64(len(e.active)))
	e.mu.Unlock()

	e.metrics.IncCounter(telemetry.MetricExecutionsStarted, 1, "trigger", string(kind))
	r := newRunner(e, run, ex, rctx, snap, newPlan(wf), vars)
	go func() {
		defer e.wg.Done()
		defer cancel()
		defer e.untrack(execID)
		r.execute(runCtx)
		run.finish(ex.Clone(), r.terminalErr)
	}()
	return run, nil
}

// Runs returns the handles of the currently active executions.
func (e *Engine) Runs() []*Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Run, 0, len(e.active))
	for _, r := range e.active {
		out = append(out, r)
	}
	return out
}

// Shutdown stops accepting submissions, flips the cooperative cancel flag on
// every active run, waits up to the configured grace window for coordinators
// to finish, then force-cancels survivors through their run contexts and
// waits for them to unwind. ctx bounds the final wait.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	runs := make([]*Run, 0, len(e.active))
	for _, r := range e.active {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.rctx.Cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(e.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		for _, r := range runs {
			r.Cancel()
		}
	case <-ctx.Done():
		for _, r := range runs {
			r.Cancel()
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		e.baseStop()
		return ctx.Err()
	}
	e.baseStop()
	return nil
}

// RunSubworkflow implements execution.SubworkflowRunner: it loads the child
// workflow, derives a context one nesting level deeper and drives the child
// run synchronously on the calling executor's goroutine. The child execution
// is persisted with its ParentID set; it is not an independently cancellable
// top-level run.
func (e *Engine) RunSubworkflow(ctx context.Context, parent *execution.Context, workflowID string, input map[string]any) (map[string]any, error) {
	if e.workflows == nil {
		return nil, errors.New("workflow store is not configured")
	}
	if parent.Depth+1 > e.cfg.MaxSubworkflowDepth {
		return nil, fmt.Errorf("subworkflow depth limit %d exceeded", e.cfg.MaxSubworkflowDepth)
	}
	for _, id := range parent.Chain {
		if id == workflowID {
			return nil, fmt.Errorf("subworkflow cycle: workflow %q is already running in this chain", workflowID)
		}
	}

	wf, err := e.workflows.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", workflowID, err)
	}
	if len(wf.Nodes) == 0 {
		return nil, errors.New("workflow has no nodes")
	}
	wf = wf.Clone()

	vars, err := e.seedVariables(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("seed variables: %w", err)
	}

	childID := uuid.NewString()
	crctx := parent.Child(childID, wf, input, varMap(vars))
	ex := &execution.Execution{
		ID:          childID,
		WorkflowID:  wf.ID,
		ParentID:    parent.ExecutionID,
		Status:      execution.StatusPending,
		TriggerKind: parent.TriggerKind,
		StartedAt:   time.Now().UTC(),
		InputData:   cloneAnyMap(input),
	}

	e.metrics.IncCounter(telemetry.MetricExecutionsStarted, 1, "trigger", string(parent.TriggerKind))
	r := newRunner(e, nil, ex, crctx, e.registry.Snapshot(), newPlan(wf), vars)
	r.execute(ctx)

	switch ex.Status {
	case execution.StatusSuccess:
		return ex.OutputData, nil
	case execution.StatusCancelled:
		return nil, errCancelled
	default:
		if r.terminalErr != nil {
			return nil, r.terminalErr
		}
		return nil, errors.New(ex.ErrorMessage)
	}
}

// seedVariables reads the global then workflow variables so workflow values
// shadow global ones of the same name.
func (e *Engine) seedVariables(ctx context.Context, workflowID string) ([]variable.Variable, error) {
	if e.variables == nil {
		return nil, nil
	}
	globals, err := e.variables.List(ctx, variable.ScopeGlobal, "")
	if err != nil {
		return nil, err
	}
	scoped, err := e.variables.List(ctx, variable.ScopeWorkflow, workflowID)
	if err != nil {
		return nil, err
	}
	return append(globals, scoped...), nil
}

// newRunContext derives the run's context from the engine base context with
// the effective execution timeout applied.
func (e *Engine) newRunContext(wf *workflow.Workflow, so submitOptions) (context.Context, context.CancelFunc) {
	timeout := so.timeout
	if timeout <= 0 {
		timeout = settingsDuration(wf.Settings, "executionTimeoutMs")
	}
	if timeout <= 0 {
		timeout = e.cfg.MaxExecutionDuration
	}
	if timeout > 0 {
		return context.WithTimeout(e.baseCtx, timeout)
	}
	return context.WithCancel(e.baseCtx)
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.metrics.RecordGauge(telemetry.MetricActiveExecutions, float64(len(e.active)))
	e.mu.Unlock()
}

// persist upserts a snapshot of the execution record. Store failures are
// logged and do not fail the run.
func (e *Engine) persist(ctx context.Context, ex *execution.Execution) {
	if e.executions == nil {
		return
	}
	if err := e.executions.Upsert(ctx, ex.Clone()); err != nil {
		e.logger.Error(ctx, "persist execution", "executionId", ex.ID, "err", err)
	}
}

func (e *Engine) notifyStarted(ctx context.Context, snap *node.Snapshot, executionID string) {
	for _, exec := range snap.Executors() {
		if l, ok := exec.(node.LifecycleListener); ok {
			l.ExecutionStarted(ctx, executionID)
		}
	}
}

func (e *Engine) notifyFinished(ctx context.Context, snap *node.Snapshot, executionID string, status execution.Status) {
	for _, exec := range snap.Executors() {
		if l, ok := exec.(node.LifecycleListener); ok {
			l.ExecutionFinished(ctx, executionID, status)
		}
	}
}

// settingsDuration reads a millisecond count from a workflow settings key.
func settingsDuration(settings map[string]any, key string) time.Duration {
	ms := paramInt(settings, key, 0)
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// varMap projects seeded variables onto the expression scope. Later entries
// shadow earlier ones.
func varMap(vars []variable.Variable) map[string]any {
	out := make(map[string]any, len(vars))
	for _, v := range vars {
		out[v.Name] = v.Value
	}
	return out
}

// cloneAnyMap shallow-copies a map, never returning nil.
func cloneAnyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
