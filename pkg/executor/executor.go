// Package executor walks an object's timeline: it dispatches each item in
// order, persists completion through the runtime, suspends on unsolved
// puzzles and stops cooperatively when a newer run supersedes it.
package executor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/handlers"
	"github.com/ormasoftchile/questline/pkg/progress"
	"github.com/ormasoftchile/questline/pkg/run"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/trace"
)

// Status is how a run ended.
type Status string

const (
	StatusCompleted Status = "completed" // reached the end of the timeline
	StatusSuspended Status = "suspended" // blocked on an unsolved puzzle
	StatusStopped   Status = "stopped"   // a step broke the loop; resumable
	StatusCancelled Status = "cancelled" // superseded or cancelled
	StatusDenied    Status = "denied"    // the start gate refused
	StatusBusy      Status = "busy"      // the same timeline is already playing
	StatusEmpty     Status = "empty"     // nothing to play
	StatusInvalid   Status = "invalid"   // the timeline failed normalization
)

// Options control a run.
type Options struct {
	// Reset replays the timeline from the first item.
	Reset bool
	// Force restarts even when the same timeline is already playing.
	Force bool
}

// RunResult is the outcome of one run. The executor reports every
// failure here; nothing escapes as an error or panic.
type RunResult struct {
	ObjectID string         `json:"object_id"`
	Status   Status         `json:"status"`
	Progress progress.State `json:"progress"`
	Reason   string         `json:"reason,omitempty"`
	Message  string         `json:"message,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// UI is the state published to observers after every progress
// recomputation.
type UI struct {
	ObjectID string
	Version  int
	Items    []schema.Item
	Progress progress.State
	Running  bool
	Message  string
}

// Observer receives UI updates. It must not block.
type Observer func(UI)

// Executor runs timelines. The zero value is not usable; use New.
type Executor struct {
	Runtime    runtime.Runtime
	Puzzles    runtime.Puzzles
	Dispatcher *handlers.Dispatcher
	Config     config.Config
	Trace      *trace.Writer
	// Gate, when set, must allow a run before it starts.
	Gate Gate

	calc progress.Calculator
	runs run.Controller

	mu        sync.Mutex
	local     map[string]map[string]bool // object id → locally completed keys
	blocked   map[string]string          // object id → puzzle id
	observers []Observer
	ui        UI
}

// New creates an executor over d's collaborators.
func New(d *handlers.Dispatcher, cfg config.Config, tw *trace.Writer) *Executor {
	return &Executor{
		Runtime:    d.Runtime,
		Puzzles:    d.Puzzles,
		Dispatcher: d,
		Config:     cfg,
		Trace:      tw,
		calc:       progress.Calculator{Runtime: d.Runtime, Puzzles: d.Puzzles},
		local:      map[string]map[string]bool{},
		blocked:    map[string]string{},
	}
}

// Observe registers fn for UI updates.
func (e *Executor) Observe(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Current returns the last published UI state.
func (e *Executor) Current() UI {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ui
}

// Blocked returns the puzzle id objectID's last run suspended on.
func (e *Executor) Blocked(objectID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.blocked[objectID]
	return id, ok
}

// Cancel stops whatever run is current.
func (e *Executor) Cancel() {
	objectID, _, running := e.runs.Current()
	e.runs.Cancel()
	if running {
		e.Trace.Emit(trace.EventRunCancelled, map[string]any{"object_id": objectID})
	}
}

// Wait blocks until background overlays finish.
func (e *Executor) Wait() { e.Dispatcher.Wait() }

// MarkLocal completes key for objectID without a node, the way bad
// puzzle data is completed.
func (e *Executor) MarkLocal(objectID, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local[objectID] == nil {
		e.local[objectID] = map[string]bool{}
	}
	e.local[objectID][key] = true
}

func (e *Executor) setBlocked(objectID, puzzleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blocked[objectID] = puzzleID
}

func (e *Executor) localKeys(objectID string) map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.local[objectID])
}

// Progress recomputes progress for tl from the live snapshot.
func (e *Executor) Progress(tl *schema.Timeline) progress.State {
	return e.calc.Compute(tl.ObjectID, tl.Items, false, e.localKeys(tl.ObjectID))
}

func (e *Executor) publish(tl *schema.Timeline, st progress.State, running bool, message string) {
	ui := UI{
		ObjectID: tl.ObjectID,
		Version:  tl.Version,
		Items:    tl.Items,
		Progress: st,
		Running:  running,
		Message:  message,
	}
	e.mu.Lock()
	e.ui = ui
	observers := slices.Clone(e.observers)
	e.mu.Unlock()

	e.Trace.EmitProgress(tl.ObjectID, st.NextIndex, st.Keys(), st.BlockedByPuzzleID)
	for _, fn := range observers {
		fn(ui)
	}
}

// refresh republishes progress after a background completion.
func (e *Executor) refresh(tl *schema.Timeline) {
	if e.Current().ObjectID != tl.ObjectID {
		return
	}
	objectID, version, running := e.runs.Current()
	running = running && objectID == tl.ObjectID && version == tl.Version
	e.publish(tl, e.Progress(tl), running, "")
}

// Run plays obj's timeline from its first incomplete item.
func (e *Executor) Run(ctx context.Context, obj *schema.Object, opts Options) *RunResult {
	start := time.Now()
	res := &RunResult{ObjectID: obj.ID}
	finish := func(status Status, st progress.State) *RunResult {
		res.Status = status
		res.Progress = st
		res.Duration = time.Since(start)
		e.Trace.EmitRunComplete(obj.ID, string(status), st.NextIndex, res.Duration)
		return res
	}

	if e.Gate != nil && !e.Gate.Allow(ctx, obj) {
		return finish(StatusDenied, progress.Zero())
	}

	tl, err := schema.Normalize(obj)
	if err != nil {
		res.Message = err.Error()
		return finish(StatusInvalid, progress.Zero())
	}
	if len(tl.Items) == 0 {
		return finish(StatusEmpty, progress.Zero())
	}

	if opts.Reset {
		e.mu.Lock()
		delete(e.local, obj.ID)
		e.mu.Unlock()
	}
	st := e.calc.Compute(obj.ID, tl.Items, opts.Reset, e.localKeys(obj.ID))

	// A busy run publishes nothing; the run holding the token owns the UI.
	tok, ok := e.runs.Begin(ctx, obj.ID, tl.Version, opts.Force || opts.Reset)
	if !ok {
		return finish(StatusBusy, st)
	}
	defer e.runs.Finish(tok)
	e.publish(tl, st, true, "")

	e.mu.Lock()
	delete(e.blocked, obj.ID)
	e.mu.Unlock()
	e.Trace.EmitRunStart(obj.ID, tl.Version, st.NextIndex, opts.Reset)

	status, out := e.loop(tok, obj, tl, st, opts.Reset)
	// Go idle before a watcher can see the suspension and resume.
	e.runs.Finish(tok)
	res.Reason, res.Message = out.Reason, out.Message
	st = e.Progress(tl)
	if status == StatusSuspended {
		st.BlockedByPuzzleID = out.PuzzleID
		e.setBlocked(obj.ID, out.PuzzleID)
	}
	if !tok.Cancelled() {
		// a superseding run owns the UI now
		e.publish(tl, st, false, out.Message)
	}
	return finish(status, st)
}

// loop runs items from st.NextIndex until the end, a suspension or a stop.
func (e *Executor) loop(tok *run.Token, obj *schema.Object, tl *schema.Timeline, st progress.State, reset bool) (Status, handlers.Outcome) {
	ctx := tok.Context()
	alive := func() bool { return e.runs.Valid(tok) && tok.ObjectID == tl.ObjectID && tok.Version == tl.Version }
	env := &handlers.Env{
		Object:     obj,
		Timeline:   tl,
		Alive:      alive,
		Superseded: tok.Cancelled,
		Changed:    func() { e.refresh(tl) },
	}
	// A reset run replays items it has not yet played itself.
	played := map[string]bool{}
	done := func(key string) bool {
		if reset {
			return played[key]
		}
		return st.CompletedKeys[key]
	}

	for idx := st.NextIndex; idx < len(tl.Items); idx++ {
		if !alive() {
			return StatusCancelled, handlers.Outcome{Reason: handlers.ReasonCancelled}
		}
		it := tl.Items[idx]
		if !it.Enabled {
			e.Trace.EmitStepComplete(tl.ObjectID, it.Key, trace.StatusSkipped, "disabled", 0)
			continue
		}
		if done(it.Key) {
			continue
		}
		if it.Delay > 0 {
			if run.Sleep(ctx, it.Delay) != nil {
				return StatusCancelled, handlers.Outcome{Reason: handlers.ReasonCancelled}
			}
		}

		stepStart := time.Now()
		e.Trace.EmitStepStart(tl.ObjectID, it.Key, string(it.Type), idx)
		env.Index = idx
		out := e.Dispatcher.Dispatch(ctx, env, it)
		e.Trace.EmitStepComplete(tl.ObjectID, it.Key, stepStatus(out.Status), out.Message, time.Since(stepStart))

		switch out.Status {
		case handlers.StatusLocal:
			e.MarkLocal(tl.ObjectID, it.Key)
		case handlers.StatusBlocked:
			return StatusSuspended, out
		case handlers.StatusStop:
			if out.Reason == handlers.ReasonCancelled || !alive() {
				return StatusCancelled, out
			}
			return StatusStopped, out
		}
		if !alive() {
			return StatusCancelled, handlers.Outcome{Reason: handlers.ReasonCancelled}
		}
		played[it.Key] = true

		st = e.Progress(tl)
		e.publish(tl, st, true, "")
	}

	if !alive() {
		return StatusCancelled, handlers.Outcome{Reason: handlers.ReasonCancelled}
	}
	if e.Dispatcher.Completer.Complete(ctx, tl.ObjectID, runtime.EndNodeKey) {
		e.reconcile(ctx, tl.ObjectID)
	}
	return StatusCompleted, handlers.Outcome{Status: handlers.StatusAdvance}
}

func stepStatus(s handlers.Status) trace.StepStatus {
	switch s {
	case handlers.StatusLocal:
		return trace.StatusLocal
	case handlers.StatusBlocked:
		return trace.StatusBlocked
	case handlers.StatusStop:
		return trace.StatusStopped
	default:
		return trace.StatusAdvanced
	}
}

// reconcile waits for the runtime's current object to move past
// objectID. Failing to observe it is logged, never fatal.
func (e *Executor) reconcile(ctx context.Context, objectID string) {
	moved := func() bool {
		return e.Runtime.Snapshot().CurrentObjectID != objectID
	}
	if e.poll(ctx, moved) {
		return
	}
	refreshErr := e.Runtime.Refresh(ctx)
	if e.poll(ctx, moved) {
		return
	}
	data := map[string]any{
		"object_id":         objectID,
		"current_object_id": e.Runtime.Snapshot().CurrentObjectID,
		"window":            e.Config.Reconcile.Window.String(),
	}
	if refreshErr != nil {
		data["refresh_error"] = refreshErr.Error()
	}
	e.Trace.Emit(trace.EventReconcileWarning, data)
}

func (e *Executor) poll(ctx context.Context, cond func() bool) bool {
	deadline := time.Now().Add(e.Config.Reconcile.Window)
	for {
		if cond() {
			return true
		}
		if !time.Now().Before(deadline) || run.Sleep(ctx, e.Config.Reconcile.PollInterval) != nil {
			return false
		}
	}
}

// Open runs a single puzzle, action or ar item outside the sequential
// loop, taking over from any current run.
func (e *Executor) Open(ctx context.Context, obj *schema.Object, key string) (*RunResult, error) {
	tl, err := schema.Normalize(obj)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	idx := slices.IndexFunc(tl.Items, func(it schema.Item) bool { return it.Key == key })
	if idx < 0 {
		return nil, fmt.Errorf("open %s: no such item in %s", key, obj.ID)
	}
	it := tl.Items[idx]
	if !Openable(it.Type) {
		return nil, fmt.Errorf("open %s: %s items cannot be opened", key, it.Type)
	}

	start := time.Now()
	tok, _ := e.runs.Begin(ctx, obj.ID, tl.Version, true)
	defer e.runs.Finish(tok)

	env := &handlers.Env{
		Object:     obj,
		Timeline:   tl,
		Index:      idx,
		Alive:      func() bool { return e.runs.Valid(tok) },
		Superseded: tok.Cancelled,
		Changed:    func() { e.refresh(tl) },
	}
	e.Trace.EmitStepStart(obj.ID, it.Key, string(it.Type), idx)
	out := e.Dispatcher.Dispatch(tok.Context(), env, it)
	e.Trace.EmitStepComplete(obj.ID, it.Key, stepStatus(out.Status), out.Message, time.Since(start))
	if out.Status == handlers.StatusLocal {
		e.MarkLocal(obj.ID, it.Key)
	}

	st := e.Progress(tl)
	status := StatusCompleted
	switch out.Status {
	case handlers.StatusBlocked:
		st.BlockedByPuzzleID = out.PuzzleID
		status = StatusSuspended
		e.runs.Finish(tok)
		e.setBlocked(obj.ID, out.PuzzleID)
	case handlers.StatusStop:
		status = StatusStopped
		if out.Reason == handlers.ReasonCancelled {
			status = StatusCancelled
		}
	}
	e.publish(tl, st, false, out.Message)
	return &RunResult{
		ObjectID: obj.ID,
		Status:   status,
		Progress: st,
		Reason:   out.Reason,
		Message:  out.Message,
		Duration: time.Since(start),
	}, nil
}

// Openable reports whether items of type t can be entered directly.
func Openable(t schema.ItemType) bool {
	return t == schema.ItemPuzzle || t == schema.ItemAction || t == schema.ItemAR
}
