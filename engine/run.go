package engine

import (
	"context"
	"sync"
	"time"

	"github.com/nervemind/nervemind/execution"
)

type (
	// Run is the caller's handle on one submitted execution. Submission is
	// asynchronous: the coordinator goroutine drives the run while the
	// handle exposes its id, live status, cancellation, step-debug control
	// and the terminal result.
	Run struct {
		executionID string
		rctx        *execution.Context
		cancelCtx   context.CancelFunc

		stepMode   bool
		observer   StepObserver
		continueCh chan struct{}
		resumeCh   chan map[string]any

		mu      sync.Mutex
		status  execution.Status
		history []string
		result  *execution.Execution
		err     error

		done chan struct{}
	}

	// StepEvent describes one step-mode pause.
	StepEvent struct {
		// NodeID is the node the run paused after.
		NodeID string
		// NodeName is its display name.
		NodeName string
		// NodeIndex is the 1-based count of nodes evaluated so far.
		NodeIndex int
		// TotalNodes is the workflow's node count.
		TotalNodes int
	}

	// StepObserver receives step-mode pause notifications. Calls happen on
	// the goroutine that evaluated the node; implementations must be cheap
	// or offload to their own queue.
	StepObserver interface {
		NodePaused(ev StepEvent)
	}

	// StepObserverFunc adapts a function to StepObserver.
	StepObserverFunc func(ev StepEvent)

	// SubmitOption tunes one submission.
	SubmitOption func(*submitOptions)

	submitOptions struct {
		stepMode bool
		observer StepObserver
		timeout  time.Duration
	}
)

// NodePaused invokes the function.
func (f StepObserverFunc) NodePaused(ev StepEvent) { f(ev) }

// WithStepMode enables step-debug mode: the run pauses after every node-end
// until ContinueStep or CancelStepExecution. The observer may be nil.
func WithStepMode(observer StepObserver) SubmitOption {
	return func(o *submitOptions) {
		o.stepMode = true
		o.observer = observer
	}
}

// WithExecutionTimeout bounds this run, overriding the engine's
// MaxExecutionDuration and the workflow's executionTimeoutMs setting.
func WithExecutionTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.timeout = d }
}

func newRun(executionID string, rctx *execution.Context, opts submitOptions) *Run {
	return &Run{
		executionID: executionID,
		rctx:        rctx,
		stepMode:    opts.stepMode,
		observer:    opts.observer,
		continueCh:  make(chan struct{}, 1),
		resumeCh:    make(chan map[string]any, 1),
		status:      execution.StatusPending,
		done:        make(chan struct{}),
	}
}

// ExecutionID returns the id of the underlying execution.
func (r *Run) ExecutionID() string { return r.executionID }

// Status returns the run's current lifecycle status.
func (r *Run) Status() execution.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result blocks until the run completes and returns the final execution
// record. The returned error is the unrecovered run error for FAILED runs and
// nil otherwise; ctx expiry returns the context error without the record.
func (r *Run) Result(ctx context.Context) (*execution.Execution, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cooperative cancellation. The coordinator observes the flag
// at its next check point and transitions the run to CANCELLED.
func (r *Run) Cancel() {
	r.rctx.Cancel()
	if r.cancelCtx != nil {
		r.cancelCtx()
	}
}

// ContinueStep releases a step-mode pause. Calling it while the run is not
// paused releases the next pause instead; extra calls collapse into one.
func (r *Run) ContinueStep() {
	select {
	case r.continueCh <- struct{}{}:
	default:
	}
}

// CancelStepExecution aborts a step-paused run. It maps to cooperative
// cancellation.
func (r *Run) CancelStepExecution() { r.Cancel() }

// Resume delivers an external stimulus to a WAITING run. The input map is
// merged into the waiting node's output and the run returns to RUNNING. It
// reports whether the run was waiting for a stimulus.
func (r *Run) Resume(input map[string]any) bool {
	if r.Status() != execution.StatusWaiting {
		return false
	}
	select {
	case r.resumeCh <- input:
		return true
	default:
		return false
	}
}

// History returns the ids of the nodes evaluated so far, in evaluation
// order. Step-debug UIs use it as the step-back ribbon.
func (r *Run) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Run) setStatus(s execution.Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Run) appendHistory(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, nodeID)
	return len(r.history)
}

func (r *Run) notifyPause(ev StepEvent) {
	if r.observer != nil {
		r.observer.NodePaused(ev)
	}
}

func (r *Run) finish(result *execution.Execution, err error) {
	r.mu.Lock()
	r.result = result
	r.err = err
	r.status = result.Status
	r.mu.Unlock()
	close(r.done)
}
