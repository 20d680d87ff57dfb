// Package trigger converts external stimuli into engine submissions: manual
// invocations, schedule ticks (fixed interval or cron), inbound webhook
// requests and file-system events. A single dispatcher goroutine owns the
// timer set and the file watch set; registrations travel over a command
// channel so the loop itself never takes a lock.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/nervemind/nervemind/engine"
	"github.com/nervemind/nervemind/telemetry"
	"github.com/nervemind/nervemind/workflow"
)

// errStopped reports an operation against a dispatcher whose loop has exited.
var errStopped = errors.New("trigger dispatcher is stopped")

type (
	// Submitter starts workflow executions. *engine.Engine implements it.
	Submitter interface {
		Submit(ctx context.Context, wf *workflow.Workflow, kind workflow.TriggerKind, input map[string]any, opts ...engine.SubmitOption) (*engine.Run, error)
	}

	// Dispatcher owns the active trigger registrations and initiates every
	// non-manual execution. Construct it with New; Stop ends the loop.
	Dispatcher struct {
		sub       Submitter
		workflows workflow.Store
		logger    telemetry.Logger

		cmds chan command
		stop chan struct{}
		done chan struct{}

		mu       sync.RWMutex
		closed   bool
		webhooks map[string]*webhookReg
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)

	// command is one registration change applied by the loop. deactivate
	// runs first so a Register of an already-registered workflow replaces
	// its previous registrations.
	command struct {
		deactivate string
		activate   []*scheduleReg
		watches    []*fileReg
		reply      chan error
	}

	scheduleReg struct {
		id         string
		workflowID string
		wf         *workflow.Workflow
		interval   time.Duration
		sched      cron.Schedule
		next       time.Time
	}

	fileReg struct {
		id         string
		workflowID string
		wf         *workflow.Workflow
		dir        string
		pattern    string
		events     map[string]bool
	}

	webhookReg struct {
		workflowID string
		wf         *workflow.Workflow
	}

	// loopState is the dispatcher goroutine's private view: the armed
	// schedules, the watch set and the shared fsnotify watcher with a
	// per-directory refcount.
	loopState struct {
		schedules map[string]*scheduleReg
		watches   map[string]*fileReg
		watchRefs map[string]int
		watcher   *fsnotify.Watcher
	}
)

// WithLogger sets the operational logger.
func WithLogger(l telemetry.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithWorkflowStore lets TriggerManual load workflows by id.
func WithWorkflowStore(s workflow.Store) Option {
	return func(d *Dispatcher) { d.workflows = s }
}

// New constructs a dispatcher submitting to sub and starts its loop.
func New(sub Submitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sub:      sub,
		logger:   telemetry.NewNoopLogger(),
		cmds:     make(chan command),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		webhooks: make(map[string]*webhookReg),
	}
	for _, o := range opts {
		o(d)
	}
	go d.loop()
	return d
}

// Register activates the workflow's trigger nodes: schedule triggers arm
// timers, webhook triggers claim their id and file triggers join the watch
// set. Manual triggers register nothing. Registering a workflow id again
// replaces its previous registrations; a failed Register leaves the workflow
// unregistered.
func (d *Dispatcher) Register(ctx context.Context, wf *workflow.Workflow) error {
	if wf == nil || wf.ID == "" {
		return errors.New("workflow id is required")
	}
	wf = wf.Clone()

	var (
		schedules []*scheduleReg
		watches   []*fileReg
		hooks     = make(map[string]*webhookReg)
	)
	for _, n := range wf.Nodes {
		if n.Disabled {
			continue
		}
		switch n.Type {
		case "scheduleTrigger":
			reg, err := newScheduleReg(wf, n)
			if err != nil {
				return fmt.Errorf("node %s: %w", n.ID, err)
			}
			schedules = append(schedules, reg)
		case "webhookTrigger":
			id := stringParam(n.Parameters, "webhookId", wf.ID)
			hooks[id] = &webhookReg{workflowID: wf.ID, wf: wf}
		case "fileTrigger":
			reg, err := newFileReg(wf, n)
			if err != nil {
				return fmt.Errorf("node %s: %w", n.ID, err)
			}
			watches = append(watches, reg)
		}
	}

	if err := d.claimWebhooks(wf.ID, hooks); err != nil {
		return err
	}
	if err := d.send(ctx, command{deactivate: wf.ID, activate: schedules, watches: watches}); err != nil {
		d.dropWebhooks(wf.ID)
		return err
	}
	return nil
}

// Deregister removes every registration owned by the workflow. Deregistering
// an unknown workflow id is not an error.
func (d *Dispatcher) Deregister(ctx context.Context, workflowID string) error {
	d.dropWebhooks(workflowID)
	return d.send(ctx, command{deactivate: workflowID})
}

// TriggerManual loads the workflow from the store and submits it with the
// manual trigger kind.
func (d *Dispatcher) TriggerManual(ctx context.Context, workflowID string, input map[string]any) (*engine.Run, error) {
	if d.workflows == nil {
		return nil, errors.New("workflow store is not configured")
	}
	wf, err := d.workflows.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", workflowID, err)
	}
	return d.sub.Submit(ctx, wf, workflow.TriggerManual, input)
}

// Stop ends the dispatcher loop: timers disarm, the watch set closes and the
// webhook handler starts answering 404. Safe to call more than once; ctx
// bounds the wait for the loop to exit.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.stop)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claimWebhooks swaps the workflow's webhook set: collisions with another
// workflow's ids fail before anything changes.
func (d *Dispatcher) claimWebhooks(workflowID string, hooks map[string]*webhookReg) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errStopped
	}
	for id := range hooks {
		if owner, taken := d.webhooks[id]; taken && owner.workflowID != workflowID {
			return fmt.Errorf("webhook id %q is already registered to workflow %q", id, owner.workflowID)
		}
	}
	for id, owner := range d.webhooks {
		if owner.workflowID == workflowID {
			delete(d.webhooks, id)
		}
	}
	for id, reg := range hooks {
		d.webhooks[id] = reg
	}
	return nil
}

func (d *Dispatcher) dropWebhooks(workflowID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, owner := range d.webhooks {
		if owner.workflowID == workflowID {
			delete(d.webhooks, id)
		}
	}
}

// send delivers a command to the loop and waits for its reply. The loop
// replies before selecting again, so a delivered command always answers.
func (d *Dispatcher) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case d.cmds <- cmd:
	case <-d.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop is the dispatcher goroutine. It arms a single timer for the earliest
// schedule, multiplexes fsnotify events and applies registration commands.
func (d *Dispatcher) loop() {
	defer close(d.done)

	st := &loopState{
		schedules: make(map[string]*scheduleReg),
		watches:   make(map[string]*fileReg),
		watchRefs: make(map[string]int),
	}
	defer func() {
		if st.watcher != nil {
			st.watcher.Close()
		}
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var timerCh <-chan time.Time
		if next, ok := st.earliest(); ok {
			timer.Reset(time.Until(next))
			timerCh = timer.C
		} else {
			timer.Stop()
		}
		var (
			evCh  chan fsnotify.Event
			errCh chan error
		)
		if st.watcher != nil {
			evCh, errCh = st.watcher.Events, st.watcher.Errors
		}

		select {
		case <-d.stop:
			return
		case <-timerCh:
			d.fireDue(st)
		case cmd := <-d.cmds:
			cmd.reply <- st.apply(cmd)
		case ev := <-evCh:
			d.fireFile(st, ev)
		case err := <-errCh:
			d.logger.Warn(context.Background(), "file watcher error", "err", err)
		}
	}
}

// fireDue submits every schedule whose next tick has passed and advances it.
func (d *Dispatcher) fireDue(st *loopState) {
	now := time.Now()
	for _, reg := range st.schedules {
		if reg.next.After(now) {
			continue
		}
		d.submit(reg.wf, workflow.TriggerSchedule, map[string]any{
			"triggeredAt":  now.UTC().Format(time.RFC3339),
			"scheduledFor": reg.next.UTC().Format(time.RFC3339),
		})
		reg.advance(now)
	}
}

// fireFile submits every watch registration the event matches.
func (d *Dispatcher) fireFile(st *loopState, ev fsnotify.Event) {
	name := eventName(ev.Op)
	for _, reg := range st.watches {
		if !reg.matches(ev.Name, name) {
			continue
		}
		d.submit(reg.wf, workflow.TriggerFileEvent, map[string]any{
			"triggeredAt": time.Now().UTC().Format(time.RFC3339),
			"path":        ev.Name,
			"event":       name,
		})
	}
}

// submit starts the run. Submissions are asynchronous on the engine side, so
// firing never blocks the loop on workflow execution.
func (d *Dispatcher) submit(wf *workflow.Workflow, kind workflow.TriggerKind, input map[string]any) {
	ctx := context.Background()
	run, err := d.sub.Submit(ctx, wf, kind, input)
	if err != nil {
		d.logger.Error(ctx, "trigger submission failed",
			"workflowId", wf.ID, "trigger", string(kind), "err", err)
		return
	}
	d.logger.Info(ctx, "trigger fired",
		"workflowId", wf.ID, "trigger", string(kind), "executionId", run.ExecutionID())
}

func (st *loopState) apply(cmd command) error {
	if cmd.deactivate != "" {
		st.deactivate(cmd.deactivate)
	}
	added := make([]*fileReg, 0, len(cmd.watches))
	for _, reg := range cmd.watches {
		if err := st.addWatch(reg); err != nil {
			for _, a := range added {
				st.removeWatch(a)
			}
			return err
		}
		added = append(added, reg)
	}
	for _, reg := range cmd.activate {
		st.schedules[reg.id] = reg
	}
	return nil
}

func (st *loopState) deactivate(workflowID string) {
	for id, reg := range st.schedules {
		if reg.workflowID == workflowID {
			delete(st.schedules, id)
		}
	}
	for _, reg := range st.watches {
		if reg.workflowID == workflowID {
			st.removeWatch(reg)
		}
	}
}

func (st *loopState) addWatch(reg *fileReg) error {
	if st.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("start file watcher: %w", err)
		}
		st.watcher = w
	}
	if st.watchRefs[reg.dir] == 0 {
		if err := st.watcher.Add(reg.dir); err != nil {
			return fmt.Errorf("watch %s: %w", reg.dir, err)
		}
	}
	st.watchRefs[reg.dir]++
	st.watches[reg.id] = reg
	return nil
}

func (st *loopState) removeWatch(reg *fileReg) {
	delete(st.watches, reg.id)
	st.watchRefs[reg.dir]--
	if st.watchRefs[reg.dir] <= 0 {
		delete(st.watchRefs, reg.dir)
		if st.watcher != nil {
			_ = st.watcher.Remove(reg.dir)
		}
	}
}

// earliest returns the soonest armed tick.
func (st *loopState) earliest() (time.Time, bool) {
	var next time.Time
	found := false
	for _, reg := range st.schedules {
		if !found || reg.next.Before(next) {
			next = reg.next
			found = true
		}
	}
	return next, found
}

// newScheduleReg arms a schedule from the node's intervalMs or cron
// parameter. Intervals fire first one interval after registration.
func newScheduleReg(wf *workflow.Workflow, n workflow.Node) (*scheduleReg, error) {
	reg := &scheduleReg{id: wf.ID + "/" + n.ID, workflowID: wf.ID, wf: wf}
	if ms := intParam(n.Parameters, "intervalMs", 0); ms > 0 {
		reg.interval = time.Duration(ms) * time.Millisecond
		reg.next = time.Now().Add(reg.interval)
		return reg, nil
	}
	expr := stringParam(n.Parameters, "cron", "")
	if expr == "" {
		return nil, errors.New("either intervalMs or cron is required")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	reg.sched = sched
	reg.next = sched.Next(time.Now())
	return reg, nil
}

// advance moves the tick past now. Interval schedules restart from now so a
// stalled dispatcher does not replay missed ticks in a burst.
func (s *scheduleReg) advance(now time.Time) {
	if s.sched != nil {
		s.next = s.sched.Next(now)
		return
	}
	s.next = now.Add(s.interval)
}

func newFileReg(wf *workflow.Workflow, n workflow.Node) (*fileReg, error) {
	dir := stringParam(n.Parameters, "path", "")
	if dir == "" {
		return nil, errors.New("path is required")
	}
	pattern := stringParam(n.Parameters, "pattern", "")
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	reg := &fileReg{
		id:         wf.ID + "/" + n.ID,
		workflowID: wf.ID,
		wf:         wf,
		dir:        dir,
		pattern:    pattern,
	}
	if raw, ok := n.Parameters["events"].([]any); ok {
		reg.events = make(map[string]bool, len(raw))
		for _, e := range raw {
			if s, ok := e.(string); ok {
				reg.events[strings.ToLower(s)] = true
			}
		}
	}
	return reg, nil
}

// matches reports whether the event is inside the watched directory, passes
// the event filter and matches the glob pattern.
func (r *fileReg) matches(path, event string) bool {
	if r.events != nil && !r.events[event] {
		return false
	}
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	if r.pattern == "" {
		return true
	}
	ok, err := doublestar.Match(r.pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

// eventName maps the highest-priority operation bit to its event name.
func eventName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return "chmod"
	}
}

func stringParam(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
