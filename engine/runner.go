package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nervemind/nervemind/execlog"
	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/expr"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/telemetry"
	"github.com/nervemind/nervemind/variable"
	"github.com/nervemind/nervemind/workflow"
)

// errCancelled marks an abort caused by cooperative cancellation rather than
// a node failure. It never reaches callers; the coordinator maps it to the
// CANCELLED terminal status.
var errCancelled = errors.New("execution cancelled")

// redacted replaces secret-derived values in log entries.
const redacted = "[redacted]"

// Branch sentinels. A node's taken branch is normally the handle its
// executor reported; constructs that keep several handles live at once use
// these. The NUL prefix keeps them out of the handle namespace.
const (
	branchAll  = "\x00all"  // every outgoing handle (parallel fan-out)
	branchBody = "\x00body" // every handle except "done" (loop iterating)
)

// Construct routing handles.
const (
	handleDone  = "done"
	handleTry   = "try"
	handleCatch = "catch"
)

type (
	// runner drives one execution to its terminal status. The coordinator
	// goroutine owns it; parallel-construct branches share it, so node
	// states, records and the last-output tracker are mutex-guarded.
	runner struct {
		eng  *Engine
		run  *Run // nil for subworkflow children
		ex   *execution.Execution
		rctx *execution.Context
		snap *node.Snapshot
		plan *plan
		vars []variable.Variable

		// secrets lists the seeded secret variable names so interpolation
		// entries referencing them are redacted.
		secrets []string

		mu        sync.Mutex
		states    map[string]nodeState
		resolved  map[string]map[string]any // interpolated parameters by node id
		last      map[string]any
		lastGen   int
		evaluated int

		terminalErr error
	}

	// nodeState is a node's resolved outcome within the run. branch is the
	// output handle control left through, set for successful nodes only.
	nodeState struct {
		status execution.Status
		branch string
	}

	retryPolicy struct {
		maxAttempts int
		delay       time.Duration
		backoff     string
	}

	limiterHold struct {
		bucket  string
		limiter *rate.Limiter
	}
)

func newRunner(e *Engine, run *Run, ex *execution.Execution, rctx *execution.Context, snap *node.Snapshot, p *plan, vars []variable.Variable) *runner {
	r := &runner{
		eng:      e,
		run:      run,
		ex:       ex,
		rctx:     rctx,
		snap:     snap,
		plan:     p,
		vars:     vars,
		states:   make(map[string]nodeState, len(p.nodes)),
		resolved: make(map[string]map[string]any, len(p.nodes)),
	}
	for _, v := range vars {
		if v.Type == variable.TypeSecret {
			r.secrets = append(r.secrets, v.Name)
		}
	}
	return r
}

// execute drives the run: RUNNING, the plan in order, then the terminal
// transition, events, metrics and persistence.
func (r *runner) execute(ctx context.Context) {
	ctx, span := r.eng.tracer.Start(ctx, "nervemind.execution")
	defer span.End()

	r.eng.persist(ctx, r.ex)
	r.transition(execution.StatusRunning)
	start := time.Now()

	r.publishStart(ctx)
	r.publishDiagnostics(ctx)
	r.publishVariables(ctx)
	r.eng.persist(ctx, r.ex)
	r.eng.notifyStarted(ctx, r.snap, r.ex.ID)

	err := r.runList(ctx, r.plan.order)
	if err == nil {
		r.sweepUnreached(ctx)
	}

	var to execution.Status
	switch {
	case err == nil:
		to = execution.StatusSuccess
		r.ex.OutputData = r.lastOutput()
	case errors.Is(err, errCancelled) || r.rctx.Cancelled():
		to = execution.StatusCancelled
	default:
		to = execution.StatusFailed
		r.ex.ErrorMessage = err.Error()
		r.terminalErr = err
		span.SetStatus(codes.Error, err.Error())
	}
	r.transition(to)

	r.publishEnd(ctx, to, time.Since(start))
	r.eng.metrics.IncCounter(telemetry.MetricExecutionsCompleted, 1, "status", string(to))
	r.eng.notifyFinished(ctx, r.snap, r.ex.ID, to)
	r.eng.persist(context.WithoutCancel(ctx), r.ex)
}

// runList evaluates the given nodes in plan order. Already-resolved nodes
// are passed over; nodes whose predecessors are not all resolved are
// deferred to a later pass (construct partitions leave their joins to the
// outer list). The first node failure aborts the list.
func (r *runner) runList(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := r.interrupted(ctx); err != nil {
			return err
		}
		if _, done := r.state(id); done {
			continue
		}
		n := r.plan.nodes[id]
		if n.Disabled {
			r.recordSkip(ctx, n, "node disabled")
			continue
		}
		if !r.predsResolved(id) {
			continue
		}
		input, taken := r.resolveInput(n)
		if !taken {
			r.recordSkip(ctx, n, "unreachable on taken branches")
			continue
		}
		if err := r.evaluate(ctx, n, input); err != nil {
			return err
		}
	}
	return nil
}

// evaluate runs one node and, for construct nodes, its dominated subgraph.
func (r *runner) evaluate(ctx context.Context, n workflow.Node, input map[string]any) error {
	exec, err := r.snap.Resolve(n.Type)
	if err != nil {
		return r.failNode(ctx, n, time.Now().UTC(), 0, input, err)
	}
	out, err := r.dispatch(ctx, n, exec, input)
	if err != nil {
		return err
	}
	if truthy(out[node.KeyWait]) {
		if out, err = r.park(ctx, n, out); err != nil {
			return err
		}
	}
	switch exec.Info().Construct {
	case node.ConstructLoop:
		return r.runLoop(ctx, n, out)
	case node.ConstructParallel:
		return r.runParallel(ctx, n, out)
	case node.ConstructTryCatch:
		return r.runTryCatch(ctx, n, out)
	}
	return nil
}

// dispatch performs one node evaluation: parameter interpolation, the
// node-start/node-input events, the attempt loop with retry policy and
// rate-limit permits, then the outcome record and events. Retries happen
// inside this single evaluation: one record, one start/end pair, a retry
// event per re-attempt.
func (r *runner) dispatch(ctx context.Context, n workflow.Node, exec node.Executor, input map[string]any) (map[string]any, error) {
	resolved := r.interpolate(ctx, n, input)
	policy := r.retryPolicy(n)
	holds := r.limiters(n)

	r.publish(ctx, execlog.New(execlog.LevelInfo, execlog.CategoryNodeStart, r.ex.ID, displayName(n)).
		WithNode(n.ID).WithContext(map[string]any{"type": n.Type}))
	r.publish(ctx, execlog.New(execlog.LevelDebug, execlog.CategoryNodeInput, r.ex.ID, "node input").
		WithNode(n.ID).WithPayload(input))

	started := time.Now().UTC()
	nctx, span := r.eng.tracer.Start(ctx, "nervemind.node."+n.Type)
	defer span.End()

	var (
		out      map[string]any
		err      error
		attempts int
	)
	for attempt := 1; attempt <= policy.maxAttempts; attempt++ {
		if attempt > 1 {
			if werr := r.backoff(nctx, policy, attempt); werr != nil {
				err = werr
				break
			}
			r.publish(nctx, execlog.New(execlog.LevelInfo, execlog.CategoryRetry, r.ex.ID,
				fmt.Sprintf("attempt %d of %d", attempt, policy.maxAttempts)).
				WithNode(n.ID).WithContext(map[string]any{
				"attempt":     attempt,
				"maxAttempts": policy.maxAttempts,
				"error":       err.Error(),
			}))
			r.rctx.Counters.Retries.Add(1)
			r.eng.metrics.IncCounter(telemetry.MetricNodeRetries, 1, "type", n.Type)
		}
		if werr := r.interrupted(nctx); werr != nil {
			err = werr
			break
		}
		if werr := r.acquire(nctx, n, holds); werr != nil {
			err = werr
			break
		}
		attempts++
		out, err = r.invoke(nctx, exec, resolved, input)
		if err == nil {
			break
		}
	}
	duration := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, r.finishNodeError(ctx, n, started, duration, attempts, input, err)
	}

	if out == nil {
		out = make(map[string]any)
	}
	branch := workflow.DefaultHandle
	if b, ok := out[node.KeyBranch].(string); ok && b != "" {
		branch = b
	}
	r.rctx.SetOutput(n.ID, out)
	r.setState(n.ID, execution.StatusSuccess, branch)
	r.setResolvedParams(n.ID, resolved.Parameters)
	r.setLastOutput(out)
	r.rctx.Counters.NodesExecuted.Add(1)
	r.appendRecord(execution.NodeExecution{
		ID:         uuid.NewString(),
		NodeID:     n.ID,
		NodeName:   displayName(n),
		NodeType:   n.Type,
		Status:     execution.StatusSuccess,
		StartedAt:  started,
		FinishedAt: started.Add(duration),
		InputData:  input,
		OutputData: out,
	})

	r.publish(ctx, execlog.New(execlog.LevelDebug, execlog.CategoryNodeOutput, r.ex.ID, "node output").
		WithNode(n.ID).WithPayload(out))
	r.publish(ctx, execlog.New(execlog.LevelInfo, execlog.CategoryNodeEnd, r.ex.ID, displayName(n)).
		WithNode(n.ID).WithContext(map[string]any{
		"status":     string(execution.StatusSuccess),
		"durationMs": duration.Milliseconds(),
	}))
	r.eng.metrics.RecordTimer(telemetry.MetricNodeDuration, duration, "type", n.Type, "status", "success")

	index := r.noteEvaluated(n.ID)
	if perr := r.stepPause(ctx, n, index); perr != nil {
		return nil, perr
	}
	return out, nil
}

// finishNodeError records a node's failed or cancelled outcome. Cancellation
// is not an error: a node interrupted by run cancellation records CANCELLED
// and the abort propagates as errCancelled. Everything else records FAILED
// and propagates as a node error for tryCatch routing.
func (r *runner) finishNodeError(ctx context.Context, n workflow.Node, started time.Time, duration time.Duration, attempts int, input map[string]any, err error) error {
	interrupted := errors.Is(err, errCancelled) || r.rctx.Cancelled()
	if !interrupted && errors.Is(err, context.Canceled) {
		// The node's context died under it (parallel sibling failure or
		// force-cancel) without the node itself failing.
		interrupted = true
	}
	if !interrupted && errors.Is(err, context.DeadlineExceeded) {
		// Per-node deadlines are mapped by invoke; a deadline surfacing here
		// is the execution's.
		err = errors.New("execution timed out")
	}

	status := execution.StatusFailed
	if interrupted {
		status = execution.StatusCancelled
		err = errCancelled
	}
	r.setState(n.ID, status, "")
	r.appendRecord(execution.NodeExecution{
		ID:           uuid.NewString(),
		NodeID:       n.ID,
		NodeName:     displayName(n),
		NodeType:     n.Type,
		Status:       status,
		StartedAt:    started,
		FinishedAt:   started.Add(duration),
		InputData:    input,
		ErrorMessage: err.Error(),
	})

	if status == execution.StatusFailed {
		r.rctx.Counters.NodesFailed.Add(1)
		r.publish(ctx, execlog.New(execlog.LevelError, execlog.CategoryError, r.ex.ID, err.Error()).
			WithNode(n.ID).WithContext(map[string]any{"type": n.Type, "attempts": attempts}))
	}
	r.publish(ctx, execlog.New(execlog.LevelInfo, execlog.CategoryNodeEnd, r.ex.ID, displayName(n)).
		WithNode(n.ID).WithContext(map[string]any{
		"status":     string(status),
		"durationMs": duration.Milliseconds(),
	}))
	r.eng.metrics.RecordTimer(telemetry.MetricNodeDuration, duration, "type", n.Type, "status", strings.ToLower(string(status)))
	r.noteEvaluated(n.ID)

	if status == execution.StatusCancelled {
		return errCancelled
	}
	return node.NewError(n.ID, n.Type, err)
}

// failNode records a failure for a node that never reached its executor
// (unknown type).
func (r *runner) failNode(ctx context.Context, n workflow.Node, started time.Time, duration time.Duration, input map[string]any, err error) error {
	return r.finishNodeError(ctx, n, started, duration, 0, input, err)
}

// invoke runs the executor under the per-attempt node deadline.
func (r *runner) invoke(ctx context.Context, exec node.Executor, n workflow.Node, input map[string]any) (map[string]any, error) {
	d := r.nodeTimeout(n)
	if d <= 0 {
		return exec.Execute(ctx, r.rctx, n, input)
	}
	nctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	out, err := exec.Execute(nctx, r.rctx, n, input)
	if err != nil && nctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, fmt.Errorf("node timed out after %s", d)
	}
	return out, err
}

// nodeTimeout reads the node's timeout parameter (milliseconds), falling
// back to the engine default. The execution deadline still applies through
// the context chain.
func (r *runner) nodeTimeout(n workflow.Node) time.Duration {
	if ms := paramInt(n.Parameters, "timeout", 0); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return r.eng.cfg.DefaultNodeTimeout
}

// interpolate resolves ${...} expressions in the node's parameters against
// the execution variable scope plus the merged input under "input". A value
// that is exactly one ${path} reference keeps the referenced value's type;
// mixed templates render as strings. Entries referencing secret variables
// are published redacted.
func (r *runner) interpolate(ctx context.Context, n workflow.Node, input map[string]any) workflow.Node {
	if len(n.Parameters) == 0 {
		return n
	}
	scope := r.rctx.Variables()
	scope["input"] = input
	ev := expr.New(scope)

	resolved := n
	params := make(map[string]any, len(n.Parameters))
	for k, v := range n.Parameters {
		params[k] = resolveParam(ev, v)
		s, ok := v.(string)
		if !ok || !expr.HasExpression(s) {
			continue
		}
		entry := execlog.New(execlog.LevelDebug, execlog.CategoryExpressionEval, r.ex.ID, "parameter "+k).
			WithNode(n.ID).WithContext(map[string]any{"template": s})
		if r.referencesSecret(s) {
			entry.Context[execlog.KeyPreview] = redacted
			entry.Context[execlog.KeyFull] = redacted
		} else {
			entry = entry.WithPayload(params[k])
		}
		r.publish(ctx, entry)
	}
	resolved.Parameters = params
	return resolved
}

func resolveParam(ev *expr.Evaluator, v any) any {
	switch t := v.(type) {
	case string:
		if !expr.HasExpression(t) {
			return t
		}
		if raw, ok := ev.Reference(t); ok {
			return raw
		}
		return ev.Evaluate(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = resolveParam(ev, vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = resolveParam(ev, vv)
		}
		return out
	default:
		return v
	}
}

func (r *runner) referencesSecret(template string) bool {
	for _, name := range r.secrets {
		if strings.Contains(template, "${"+name) {
			return true
		}
	}
	return false
}

// park suspends the run in WAITING until Resume delivers the external
// stimulus, which is merged into the node's output. Subworkflow children
// have no handle to resume through; their wait markers are dropped with a
// warning.
func (r *runner) park(ctx context.Context, n workflow.Node, out map[string]any) (map[string]any, error) {
	cleared := cloneAnyMap(out)
	delete(cleared, node.KeyWait)
	if r.run == nil {
		r.rctx.SetOutput(n.ID, cleared)
		r.publish(ctx, execlog.New(execlog.LevelWarn, execlog.CategoryDataFlow, r.ex.ID,
			"subworkflow cannot wait for an external stimulus").WithNode(n.ID))
		return cleared, nil
	}

	r.transition(execution.StatusWaiting)
	r.publish(ctx, execlog.New(execlog.LevelInfo, execlog.CategoryDataFlow, r.ex.ID,
		"waiting for external stimulus").WithNode(n.ID))
	select {
	case stimulus := <-r.run.resumeCh:
		for k, v := range stimulus {
			cleared[k] = v
		}
		r.rctx.SetOutput(n.ID, cleared)
		if b, ok := cleared[node.KeyBranch].(string); ok && b != "" {
			r.setBranch(n.ID, b)
		}
		r.setLastOutput(cleared)
		r.transition(execution.StatusRunning)
		r.publish(ctx, execlog.New(execlog.LevelInfo, execlog.CategoryDataFlow, r.ex.ID,
			"resumed by external stimulus").WithNode(n.ID))
		return cleared, nil
	case <-ctx.Done():
		r.transition(execution.StatusRunning)
		return nil, r.interrupted(ctx)
	}
}

// runLoop executes the loop body subgraph once per item. The body is the
// subgraph dominated by the loop node and reachable over its non-"done"
// handles; each iteration seeds the loop's output with the current item
// bound under the item variable. Afterwards the loop's output becomes the
// ordered aggregate {results, count} and control leaves through "done".
func (r *runner) runLoop(ctx context.Context, n workflow.Node, out map[string]any) error {
	items, _ := out[node.KeyItems].([]any)
	itemVar, _ := out[node.KeyItemVariable].(string)
	if itemVar == "" {
		itemVar = "item"
	}

	scope := r.plan.scope(n.ID)
	bodyRoots := r.plan.targets(n.ID, func(h string) bool { return h != handleDone })
	doneRoots := r.plan.targets(n.ID, func(h string) bool { return h == handleDone })
	// Nodes also reachable from the done handle join after the final
	// iteration; they are not part of the body.
	body := r.plan.exclusive(scope, bodyRoots, [][]string{doneRoots})

	base := stripReserved(out)
	results := make([]any, 0, len(items))
	for i, item := range items {
		if err := r.interrupted(ctx); err != nil {
			return err
		}
		seed := cloneAnyMap(base)
		seed[itemVar] = item
		r.rctx.SetVariable(itemVar, item)
		r.rctx.SetOutput(n.ID, seed)
		r.setState(n.ID, execution.StatusSuccess, branchBody)
		r.clearStates(body)
		r.publish(ctx, execlog.New(execlog.LevelDebug, execlog.CategoryDataFlow, r.ex.ID,
			fmt.Sprintf("loop iteration %d of %d", i+1, len(items))).
			WithNode(n.ID).WithContext(map[string]any{"index": i}))

		gen := r.generation()
		if err := r.runList(ctx, body); err != nil {
			return err
		}
		if r.generation() != gen {
			results = append(results, r.lastOutput())
		} else {
			results = append(results, seed)
		}
	}

	agg := cloneAnyMap(base)
	agg["results"] = results
	agg["count"] = len(items)
	r.rctx.SetOutput(n.ID, agg)
	r.setState(n.ID, execution.StatusSuccess, handleDone)
	r.setLastOutput(agg)
	return nil
}

// runParallel fans the branch subgraphs out onto the worker pool. Each
// outgoing edge roots one branch; a branch's partition is the scope it
// reaches exclusively, so shared join nodes run once afterwards through the
// outer pass. A branch failure cancels its siblings.
func (r *runner) runParallel(ctx context.Context, n workflow.Node, out map[string]any) error {
	r.setBranch(n.ID, branchAll)
	scope := r.plan.scope(n.ID)
	roots := r.plan.targets(n.ID, func(string) bool { return true })
	if len(roots) == 0 {
		return nil
	}

	groups := make([][]string, len(roots))
	for i, root := range roots {
		others := make([][]string, 0, len(roots)-1)
		for j, other := range roots {
			if j != i {
				others = append(others, []string{other})
			}
		}
		groups[i] = r.plan.exclusive(scope, []string{root}, others)
	}

	limit := paramInt(r.resolvedParams(n.ID, n.Parameters), "maxConcurrent", r.eng.cfg.WorkerPoolSize)
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, ids := range groups {
		g.Go(func() error { return r.runList(gctx, ids) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := r.interrupted(ctx); err != nil {
		return err
	}

	// Join view: the parallel node's output grows a branches map keyed by
	// handle, carrying each branch's final output.
	branches := make(map[string]any, len(roots))
	for i, root := range roots {
		handle := workflow.DefaultHandle
		for _, c := range r.plan.outgoing[n.ID] {
			if c.TargetNodeID == root {
				handle = c.SourceOutput
				break
			}
		}
		if final, ok := r.lastSuccessOutput(groups[i]); ok {
			branches[handle] = final
		}
	}
	agg := stripReserved(out)
	agg["branches"] = branches
	r.rctx.SetOutput(n.ID, agg)
	return nil
}

// runTryCatch executes the try partition and, when a node in it fails,
// reroutes control to the catch partition seeded with {error, nodeId}. An
// unrecovered catch failure, a cancellation or a missing catch branch
// propagates. Try roots hang off the "try" handle, falling back to "main";
// catch roots hang off "catch".
func (r *runner) runTryCatch(ctx context.Context, n workflow.Node, out map[string]any) error {
	scope := r.plan.scope(n.ID)
	tryHandle := handleTry
	if len(r.plan.targets(n.ID, func(h string) bool { return h == handleTry })) == 0 {
		tryHandle = workflow.DefaultHandle
	}
	tryRoots := r.plan.targets(n.ID, func(h string) bool { return h == tryHandle })
	catchRoots := r.plan.targets(n.ID, func(h string) bool { return h == handleCatch })

	r.setBranch(n.ID, tryHandle)
	tryPart := r.plan.exclusive(scope, tryRoots, [][]string{catchRoots})
	err := r.runList(ctx, tryPart)
	if err == nil {
		return nil
	}
	if errors.Is(err, errCancelled) {
		return err
	}
	var nerr *node.Error
	if !errors.As(err, &nerr) || len(catchRoots) == 0 {
		return err
	}

	seed := stripReserved(out)
	seed["error"] = nerr.Err.Error()
	seed["nodeId"] = nerr.NodeID
	r.rctx.SetOutput(n.ID, seed)
	r.setBranch(n.ID, handleCatch)
	r.publish(ctx, execlog.New(execlog.LevelInfo, execlog.CategoryDataFlow, r.ex.ID,
		fmt.Sprintf("recovering from node %s through catch branch", nerr.NodeID)).
		WithNode(n.ID).WithContext(map[string]any{"error": nerr.Err.Error(), "nodeId": nerr.NodeID}))

	catchPart := r.plan.exclusive(scope, catchRoots, [][]string{tryRoots})
	return r.runList(ctx, catchPart)
}

// retryPolicy reads the policy from the node's first retry-construct
// predecessor on a taken edge. Interpolated parameters recorded at the
// construct's own dispatch take precedence over its raw ones.
func (r *runner) retryPolicy(n workflow.Node) retryPolicy {
	p := retryPolicy{maxAttempts: 1}
	for _, c := range r.plan.incoming[n.ID] {
		src := r.plan.nodes[c.SourceNodeID]
		if r.construct(src.Type) != node.ConstructRetry || !r.edgeTaken(c) {
			continue
		}
		params := r.resolvedParams(src.ID, src.Parameters)
		p.maxAttempts = paramInt(params, "maxAttempts", 3)
		if p.maxAttempts < 1 {
			p.maxAttempts = 1
		}
		p.delay = time.Duration(paramInt(params, "delayMs", 1000)) * time.Millisecond
		p.backoff = paramString(params, "backoff", "fixed")
		break
	}
	return p
}

// limiters returns a hold on every bucket the node's rateLimit-construct
// predecessors name, in declaration order.
func (r *runner) limiters(n workflow.Node) []limiterHold {
	var out []limiterHold
	for _, c := range r.plan.incoming[n.ID] {
		src := r.plan.nodes[c.SourceNodeID]
		if r.construct(src.Type) != node.ConstructRateLimit || !r.edgeTaken(c) {
			continue
		}
		params := r.resolvedParams(src.ID, src.Parameters)
		bucket := paramString(params, "bucketId", "")
		if bucket == "" {
			continue
		}
		permits := paramInt(params, "permitsPerInterval", 1)
		interval := time.Duration(paramInt(params, "intervalMs", 1000)) * time.Millisecond
		out = append(out, limiterHold{bucket: bucket, limiter: r.eng.buckets.Get(bucket, permits, interval)})
	}
	return out
}

// acquire takes one permit from each bucket, sleeping out reservation
// delays. Waits emit a rate-limit event and count toward the run's stats.
func (r *runner) acquire(ctx context.Context, n workflow.Node, holds []limiterHold) error {
	for _, h := range holds {
		res := h.limiter.Reserve()
		if !res.OK() {
			return fmt.Errorf("rate limit bucket %q cannot serve a permit", h.bucket)
		}
		delay := res.Delay()
		if delay <= 0 {
			continue
		}
		r.publish(ctx, execlog.New(execlog.LevelInfo, execlog.CategoryRateLimit, r.ex.ID,
			fmt.Sprintf("waiting %s for bucket %q", delay.Round(time.Millisecond), h.bucket)).
			WithNode(n.ID).WithContext(map[string]any{"bucketId": h.bucket, "waitMs": delay.Milliseconds()}))
		r.rctx.Counters.RateLimitWaits.Add(1)
		r.eng.metrics.IncCounter(telemetry.MetricRateLimitWaits, 1, "bucket", h.bucket)
		if err := r.sleep(ctx, delay); err != nil {
			res.Cancel()
			return err
		}
	}
	return nil
}

// backoff waits out the retry delay before the given attempt.
func (r *runner) backoff(ctx context.Context, p retryPolicy, attempt int) error {
	d := p.delay
	switch p.backoff {
	case "linear":
		d = p.delay * time.Duration(attempt-1)
	case "exponential":
		d = p.delay << (attempt - 2)
	}
	if d <= 0 {
		return r.interrupted(ctx)
	}
	return r.sleep(ctx, d)
}

// sleep waits for d, waking early on cancellation or deadline.
func (r *runner) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return r.interrupted(ctx)
	case <-ctx.Done():
		return r.interrupted(ctx)
	}
}

// stepPause suspends a step-mode run after a node-end until the controller
// releases it.
func (r *runner) stepPause(ctx context.Context, n workflow.Node, index int) error {
	if r.run == nil || !r.run.stepMode {
		return nil
	}
	r.run.notifyPause(StepEvent{
		NodeID:     n.ID,
		NodeName:   displayName(n),
		NodeIndex:  index,
		TotalNodes: len(r.rctx.Workflow.Nodes),
	})
	select {
	case <-r.run.continueCh:
		return r.interrupted(ctx)
	case <-ctx.Done():
		return r.interrupted(ctx)
	}
}

// resolveInput assembles the node's input from the outputs of its taken
// incoming edges, in connection declaration order with later contributions
// overwriting earlier ones. Entry nodes receive the trigger input. The
// second return reports whether any edge was taken.
func (r *runner) resolveInput(n workflow.Node) (map[string]any, bool) {
	in := r.plan.incoming[n.ID]
	if len(in) == 0 {
		return cloneAnyMap(r.rctx.TriggerInput), true
	}
	merged := make(map[string]any)
	var paths []map[string]any
	for _, c := range in {
		if !r.edgeTaken(c) {
			continue
		}
		out, ok := r.rctx.Output(c.SourceNodeID)
		if !ok {
			continue
		}
		contrib := stripReserved(out)
		paths = append(paths, contrib)
		for k, v := range contrib {
			merged[k] = v
		}
	}
	if len(paths) == 0 {
		return nil, false
	}
	if len(paths) > 1 {
		merged[node.KeyPaths] = paths
	}
	return merged, true
}

// edgeTaken reports whether control flowed over the connection: the source
// succeeded and the edge leaves through its taken branch.
func (r *runner) edgeTaken(c workflow.Connection) bool {
	st, ok := r.state(c.SourceNodeID)
	if !ok || st.status != execution.StatusSuccess {
		return false
	}
	switch st.branch {
	case branchAll:
		return true
	case branchBody:
		return c.SourceOutput != handleDone
	default:
		return c.SourceOutput == st.branch
	}
}

func (r *runner) predsResolved(id string) bool {
	for _, c := range r.plan.incoming[id] {
		if _, ok := r.state(c.SourceNodeID); !ok {
			return false
		}
	}
	return true
}

// interrupted maps the run's abort conditions: the cooperative cancel flag
// and context cancellation map to errCancelled, the execution deadline to a
// timeout failure.
func (r *runner) interrupted(ctx context.Context) error {
	if r.rctx.Cancelled() {
		return errCancelled
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("execution timed out")
		}
		return errCancelled
	}
	return nil
}

// recordSkip resolves a node as SKIPPED without invoking its executor.
func (r *runner) recordSkip(ctx context.Context, n workflow.Node, reason string) {
	r.setState(n.ID, execution.StatusSkipped, "")
	r.appendRecord(execution.NodeExecution{
		ID:         uuid.NewString(),
		NodeID:     n.ID,
		NodeName:   displayName(n),
		NodeType:   n.Type,
		Status:     execution.StatusSkipped,
		FinishedAt: time.Now().UTC(),
	})
	r.rctx.Counters.NodesSkipped.Add(1)
	r.publish(ctx, execlog.New(execlog.LevelDebug, execlog.CategoryNodeSkip, r.ex.ID, reason).WithNode(n.ID))
}

// sweepUnreached records the nodes no pass resolved. Runs only on success:
// a failed or cancelled run stops recording at the aborting node.
func (r *runner) sweepUnreached(ctx context.Context) {
	for _, id := range r.plan.order {
		if _, ok := r.state(id); ok {
			continue
		}
		r.recordSkip(ctx, r.plan.nodes[id], "unreachable")
	}
}

func (r *runner) publishStart(ctx context.Context) {
	r.publish(ctx, execlog.New(execlog.LevelInfo, execlog.CategoryExecutionStart, r.ex.ID, "execution started").
		WithContext(map[string]any{
			"workflowId":   r.ex.WorkflowID,
			"workflowName": r.rctx.Workflow.Name,
			"trigger":      string(r.ex.TriggerKind),
		}))
	r.eng.logger.Info(ctx, "execution started",
		"executionId", r.ex.ID, "workflowId", r.ex.WorkflowID, "trigger", string(r.ex.TriggerKind))
}

func (r *runner) publishEnd(ctx context.Context, to execution.Status, duration time.Duration) {
	level := execlog.LevelInfo
	if to == execution.StatusFailed {
		level = execlog.LevelError
	}
	kv := map[string]any{
		"status":        string(to),
		"durationMs":    duration.Milliseconds(),
		"nodesExecuted": r.rctx.Counters.NodesExecuted.Load(),
		"nodesSkipped":  r.rctx.Counters.NodesSkipped.Load(),
		"nodesFailed":   r.rctx.Counters.NodesFailed.Load(),
		"retries":       r.rctx.Counters.Retries.Load(),
	}
	if r.ex.ErrorMessage != "" {
		kv["error"] = r.ex.ErrorMessage
	}
	r.publish(ctx, execlog.New(level, execlog.CategoryExecutionEnd, r.ex.ID, "execution "+strings.ToLower(string(to))).WithContext(kv))
	if to == execution.StatusFailed {
		r.eng.logger.Error(ctx, "execution failed",
			"executionId", r.ex.ID, "workflowId", r.ex.WorkflowID, "err", r.ex.ErrorMessage)
		return
	}
	r.eng.logger.Info(ctx, "execution "+strings.ToLower(string(to)),
		"executionId", r.ex.ID, "workflowId", r.ex.WorkflowID, "durationMs", duration.Milliseconds())
}

// publishDiagnostics surfaces submit-time validation findings as warnings and
// the plan's discarded cycle edges as errors.
func (r *runner) publishDiagnostics(ctx context.Context) {
	for _, d := range diagnose(r.rctx.Workflow, r.snap) {
		kv := map[string]any{}
		if d.Field != "" {
			kv["field"] = d.Field
		}
		r.publish(ctx, execlog.New(execlog.LevelWarn, execlog.CategoryError, r.ex.ID, d.Message).
			WithNode(d.NodeID).WithContext(kv))
		r.eng.logger.Warn(ctx, "workflow diagnostic", "executionId", r.ex.ID, "finding", d.String())
	}
	for _, c := range r.plan.discarded {
		r.publish(ctx, execlog.New(execlog.LevelError, execlog.CategoryError, r.ex.ID,
			fmt.Sprintf("cycle detected: ignoring connection %s -> %s", c.SourceNodeID, c.TargetNodeID)).
			WithNode(c.SourceNodeID).WithContext(map[string]any{
			"sourceNodeId": c.SourceNodeID,
			"targetNodeId": c.TargetNodeID,
		}))
		r.eng.logger.Warn(ctx, "cycle edge discarded", "executionId", r.ex.ID,
			"source", c.SourceNodeID, "target", c.TargetNodeID)
	}
}

// publishVariables logs the seeded variable scope. Secret values never reach
// the log.
func (r *runner) publishVariables(ctx context.Context) {
	for _, v := range r.vars {
		entry := execlog.New(execlog.LevelDebug, execlog.CategoryVariable, r.ex.ID, "seed variable "+v.Name).
			WithContext(map[string]any{"scope": string(v.Scope), "name": v.Name})
		if v.Type == variable.TypeSecret {
			entry.Context[execlog.KeyPreview] = redacted
			entry.Context[execlog.KeyFull] = redacted
		} else {
			entry = entry.WithPayload(v.Value)
		}
		r.publish(ctx, entry)
	}
}

func (r *runner) publish(ctx context.Context, e execlog.Entry) {
	if r.rctx.Log == nil {
		return
	}
	if err := r.rctx.Log.Publish(ctx, e); err != nil {
		r.eng.logger.Warn(ctx, "log subscriber error", "executionId", r.ex.ID, "err", err)
	}
}

// transition moves the execution through its status machine and mirrors the
// status onto the run handle.
func (r *runner) transition(to execution.Status) {
	r.mu.Lock()
	err := r.ex.Transition(to)
	r.mu.Unlock()
	if err != nil {
		r.eng.logger.Error(context.Background(), "status transition", "executionId", r.ex.ID, "err", err)
		return
	}
	if r.run != nil {
		r.run.setStatus(to)
	}
}

func (r *runner) state(id string) (nodeState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return st, ok
}

func (r *runner) setState(id string, status execution.Status, branch string) {
	r.mu.Lock()
	r.states[id] = nodeState{status: status, branch: branch}
	r.mu.Unlock()
}

func (r *runner) setBranch(id, branch string) {
	r.mu.Lock()
	st := r.states[id]
	st.branch = branch
	r.states[id] = st
	r.mu.Unlock()
}

func (r *runner) clearStates(ids []string) {
	r.mu.Lock()
	for _, id := range ids {
		delete(r.states, id)
	}
	r.mu.Unlock()
}

func (r *runner) setResolvedParams(id string, params map[string]any) {
	r.mu.Lock()
	r.resolved[id] = params
	r.mu.Unlock()
}

func (r *runner) resolvedParams(id string, fallback map[string]any) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.resolved[id]; ok {
		return p
	}
	return fallback
}

func (r *runner) appendRecord(ne execution.NodeExecution) {
	r.mu.Lock()
	r.ex.NodeExecutions = append(r.ex.NodeExecutions, ne)
	r.mu.Unlock()
}

func (r *runner) setLastOutput(out map[string]any) {
	r.mu.Lock()
	r.last = out
	r.lastGen++
	r.mu.Unlock()
}

func (r *runner) lastOutput() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *runner) generation() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastGen
}

// noteEvaluated counts a dispatched node and mirrors it onto the run
// handle's history. Returns the 1-based evaluation index.
func (r *runner) noteEvaluated(id string) int {
	r.mu.Lock()
	r.evaluated++
	idx := r.evaluated
	r.mu.Unlock()
	if r.run != nil {
		r.run.appendHistory(id)
	}
	return idx
}

// lastSuccessOutput returns the output of the last successful node among
// ids, in plan order.
func (r *runner) lastSuccessOutput(ids []string) (map[string]any, bool) {
	for i := len(ids) - 1; i >= 0; i-- {
		st, ok := r.state(ids[i])
		if !ok || st.status != execution.StatusSuccess {
			continue
		}
		if out, ok := r.rctx.Output(ids[i]); ok {
			return stripReserved(out), true
		}
	}
	return nil, false
}

// construct returns the construct marker of a node type, or ConstructNone
// for plain and unknown types.
func (r *runner) construct(typ string) node.Construct {
	exec, err := r.snap.Resolve(typ)
	if err != nil {
		return node.ConstructNone
	}
	return exec.Info().Construct
}

// stripReserved copies an output map without the engine routing keys. The
// filter meta counters are payload and flow through.
func stripReserved(out map[string]any) map[string]any {
	dst := make(map[string]any, len(out))
	for k, v := range out {
		switch k {
		case node.KeyBranch, node.KeyWait, node.KeyItems, node.KeyItemVariable, node.KeyPaths:
			continue
		}
		dst[k] = v
	}
	return dst
}

func displayName(n workflow.Node) string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return expr.Truthy(t)
	default:
		return expr.Truthy(expr.Stringify(t))
	}
}

// paramInt reads an integer parameter tolerant of the types parameter maps
// arrive with: JSON numbers, expression results and numeric strings.
func paramInt(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float32:
		return int(t)
	case float64:
		return int(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return int(f)
		}
	}
	return def
}

func paramString(params map[string]any, key, def string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	}
	return expr.Stringify(v)
}
