// Package handlers runs one timeline item per call. Each handler drives
// its overlay collaborators and reports how the executor should proceed.
package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/trace"
)

// Status tells the executor what to do after a step.
type Status string

const (
	// StatusAdvance moves on to the next item.
	StatusAdvance Status = "advance"
	// StatusLocal moves on after completing the item locally, without a node.
	StatusLocal Status = "local"
	// StatusBlocked suspends the run on an unsolved puzzle.
	StatusBlocked Status = "blocked"
	// StatusStop ends the run, leaving the item resumable.
	StatusStop Status = "stop"
)

// Outcome is the result of dispatching one item.
type Outcome struct {
	Status   Status
	PuzzleID string // set with StatusBlocked
	Reason   string // machine-readable stop reason
	Message  string // player-facing explanation
}

func advance() Outcome { return Outcome{Status: StatusAdvance} }

func stop(reason, message string) Outcome {
	return Outcome{Status: StatusStop, Reason: reason, Message: message}
}

// Stop reasons.
const (
	ReasonCancelled     = "cancelled"
	ReasonUserCancelled = "user_cancelled"
	ReasonActionFailed  = "action_failed"
	ReasonOverlayFailed = "overlay_failed"
)

// Completer completes nodes; *completion.Client implements it.
type Completer interface {
	Complete(ctx context.Context, objectID, itemKey string) bool
}

// Env is the executor state a handler may consult.
type Env struct {
	Object   *schema.Object
	Timeline *schema.Timeline
	Index    int

	// Alive reports whether the owning run is still the current, running
	// one. Nil means always alive.
	Alive func() bool
	// Superseded reports whether a newer run replaced the owning one.
	// Background completions are dropped once it returns true.
	Superseded func() bool
	// Changed is called after a background completion lands.
	Changed func()
}

// ObjectID returns the timeline's object id.
func (e *Env) ObjectID() string { return e.Timeline.ObjectID }

func (e *Env) alive() bool { return e.Alive == nil || e.Alive() }

func (e *Env) superseded() bool { return e.Superseded != nil && e.Superseded() }

// HasNextEnabled reports whether an enabled item follows the current one.
func (e *Env) HasNextEnabled() bool {
	for _, it := range e.Timeline.Items[e.Index+1:] {
		if it.Enabled {
			return true
		}
	}
	return false
}

// Dispatcher runs items by type.
type Dispatcher struct {
	Runtime   runtime.Runtime
	Puzzles   runtime.Puzzles
	Completer Completer
	Host      overlay.Host
	Audio     overlay.AudioPlayer
	Effects   overlay.Effects
	Media     overlay.MediaResolver
	Config    config.Config
	Trace     *trace.Writer

	wg sync.WaitGroup
}

// Wait blocks until every background overlay started by the dispatcher
// has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Dispatch runs it and reports how the executor should proceed.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Env, it schema.Item) Outcome {
	switch it.Type {
	case schema.ItemText:
		return d.text(ctx, env, it)
	case schema.ItemVideo:
		return d.video(ctx, env, it)
	case schema.ItemChat:
		return d.chat(ctx, env, it)
	case schema.ItemAudio, schema.ItemStreamingTextAudio:
		return d.audio(ctx, env, it)
	case schema.ItemEffect:
		return d.effect(ctx, env, it)
	case schema.ItemAction:
		return d.action(ctx, env, it)
	case schema.ItemDocument:
		return d.document(ctx, env, it)
	case schema.ItemAR:
		return d.ar(ctx, env, it)
	case schema.ItemPuzzle:
		return d.puzzle(ctx, env, it)
	default:
		return stop("unknown_type", "unsupported step "+string(it.Type))
	}
}

// complete completes the node unless the run went stale; a result that
// arrives after the run went stale is discarded.
func (d *Dispatcher) complete(ctx context.Context, env *Env, key string) bool {
	if !env.alive() {
		return false
	}
	ok := d.Completer.Complete(ctx, env.ObjectID(), key)
	return ok && env.alive()
}

// background runs f on its own goroutine with a context detached from the
// run's lifetime, so a non-blocking overlay outlives the loop that
// opened it.
func (d *Dispatcher) background(ctx context.Context, f func(ctx context.Context)) {
	bctx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		f(bctx)
	}()
}

// completeDetached completes a node from a background overlay unless a
// newer run superseded the one that opened it.
func (d *Dispatcher) completeDetached(ctx context.Context, env *Env, key string) {
	if env.superseded() {
		return
	}
	if d.Completer.Complete(ctx, env.ObjectID(), key) && env.Changed != nil && !env.superseded() {
		env.Changed()
	}
}

func (d *Dispatcher) request(env *Env, it schema.Item, media string) overlay.Request {
	return overlay.Request{ObjectID: env.ObjectID(), Item: it, MediaURL: media}
}

// resolve resolves a media reference; failures are traced and reported
// as ok=false.
func (d *Dispatcher) resolve(ctx context.Context, env *Env, it schema.Item, raw string) (string, bool) {
	if d.Media == nil {
		return raw, raw != ""
	}
	u, err := d.Media.Resolve(ctx, raw)
	if err != nil {
		d.Trace.Emit(trace.EventStepComplete, map[string]any{
			"object_id": env.ObjectID(),
			"item_key":  it.Key,
			"status":    "media_unresolved",
			"message":   err.Error(),
		})
		return "", false
	}
	return u, true
}

// cancelled reports whether ctx ended because the run was cancelled.
func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

func (d *Dispatcher) traceCancelled(env *Env, it schema.Item, reason string) {
	d.Trace.Emit(trace.EventUserCancelled, map[string]any{
		"object_id": env.ObjectID(),
		"item_key":  it.Key,
		"node_id":   runtime.NodeID(env.ObjectID(), it.Key),
		"reason":    reason,
	})
}

func (d *Dispatcher) traceActionFailed(env *Env, it schema.Item, message string, err error) {
	data := map[string]any{
		"object_id": env.ObjectID(),
		"item_key":  it.Key,
		"node_id":   runtime.NodeID(env.ObjectID(), it.Key),
		"message":   message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	d.Trace.Emit(trace.EventActionFailed, data)
}

// showUntil shows an overlay that closes itself after d when d > 0.
// It returns the evidence and whether the timer, not the player, closed it.
func (d *Dispatcher) showUntil(ctx context.Context, kind schema.ItemType, req overlay.Request, timeout time.Duration) (*overlay.Evidence, bool, error) {
	if timeout <= 0 {
		ev, err := d.Host.Show(ctx, kind, req)
		return ev, false, err
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ev, err := d.Host.Show(sctx, kind, req)
	if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		d.Host.Close(kind)
		return nil, true, nil
	}
	return ev, false, err
}
