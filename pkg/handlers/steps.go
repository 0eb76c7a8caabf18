package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/run"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/trace"
)

func (d *Dispatcher) text(ctx context.Context, env *Env, it schema.Item) Outcome {
	req := d.request(env, it, "")
	timer := time.Duration(it.Text.AutoCloseMs) * time.Millisecond

	if it.Blocking {
		// player close and timer close race; either completes the node
		_, _, err := d.showUntil(ctx, schema.ItemText, req, timer)
		if cancelled(ctx) {
			return stop(ReasonCancelled, "")
		}
		if err != nil {
			d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
			return stop(ReasonOverlayFailed, err.Error())
		}
		d.complete(ctx, env, it.Key)
		return advance()
	}

	if timer > 0 {
		d.background(ctx, func(bctx context.Context) {
			d.showUntil(bctx, schema.ItemText, req, timer)
		})
		d.complete(ctx, env, it.Key)
		return advance()
	}

	// Without a timer the card stays up and completes when dismissed.
	d.background(ctx, func(bctx context.Context) {
		if _, err := d.Host.Show(bctx, schema.ItemText, req); err == nil {
			d.completeDetached(bctx, env, it.Key)
		}
	})
	return advance()
}

func (d *Dispatcher) video(ctx context.Context, env *Env, it schema.Item) Outcome {
	url, ok := d.resolve(ctx, env, it, it.Video.URL)
	if !ok {
		d.complete(ctx, env, it.Key)
		return advance()
	}
	req := d.request(env, it, url)

	if !it.Blocking {
		d.background(ctx, func(bctx context.Context) {
			d.Host.Show(bctx, schema.ItemVideo, req)
		})
		d.complete(ctx, env, it.Key)
		return advance()
	}

	_, err := d.Host.Show(ctx, schema.ItemVideo, req)
	if cancelled(ctx) {
		return stop(ReasonCancelled, "")
	}
	if err != nil {
		d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
		return stop(ReasonOverlayFailed, err.Error())
	}
	d.complete(ctx, env, it.Key)
	return advance()
}

func (d *Dispatcher) chat(ctx context.Context, env *Env, it schema.Item) Outcome {
	req := d.request(env, it, "")
	if !it.Blocking {
		d.background(ctx, func(bctx context.Context) {
			if _, err := d.Host.Show(bctx, schema.ItemChat, req); err == nil {
				d.completeDetached(bctx, env, it.Key)
			}
		})
		return advance()
	}

	// The remote side may close the chat when the goal is reached.
	_, err := d.Host.Show(ctx, schema.ItemChat, req)
	if cancelled(ctx) {
		return stop(ReasonCancelled, "")
	}
	if err != nil {
		d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
		return stop(ReasonOverlayFailed, err.Error())
	}
	d.complete(ctx, env, it.Key)
	return advance()
}

func (d *Dispatcher) audio(ctx context.Context, env *Env, it schema.Item) Outcome {
	url, ok := d.resolve(ctx, env, it, it.Audio.URL)
	if !ok || d.Audio == nil {
		// nothing to play; never stall the timeline on media
		d.complete(ctx, env, it.Key)
		return advance()
	}
	req := overlay.AudioRequest{
		ObjectID: env.ObjectID(),
		ItemKey:  it.Key,
		URL:      url,
		Text:     it.Audio.Text,
		Role:     it.Audio.Role,
		Kind:     it.Audio.Kind,
	}

	if it.Audio.Role == schema.AudioRoleBackground {
		if err := d.Audio.PlayBackground(ctx, req); err != nil {
			d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
		}
		d.complete(ctx, env, it.Key)
		return advance()
	}

	// Narration must not overlap whatever comes next.
	if !it.Blocking && !env.HasNextEnabled() {
		d.background(ctx, func(bctx context.Context) {
			d.Audio.Play(bctx, req)
		})
		d.complete(ctx, env, it.Key)
		return advance()
	}

	timeout := d.Config.Audio.NarrationTimeout
	if it.Audio.Kind == schema.AudioKindEffect {
		timeout = d.Config.Audio.EffectTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	err := d.Audio.Play(pctx, req)
	timedOut := errors.Is(pctx.Err(), context.DeadlineExceeded)
	cancel()

	if cancelled(ctx) {
		d.Audio.Stop()
		return stop(ReasonCancelled, "")
	}
	switch {
	case timedOut:
		d.Audio.Stop()
		d.Trace.EmitNode(trace.EventPlaybackTimeout, env.ObjectID(), it.Key, runtime.NodeID(env.ObjectID(), it.Key), map[string]any{
			"timeout": timeout.String(),
			"kind":    it.Audio.Kind,
		})
	case err != nil:
		d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
		return stop(ReasonOverlayFailed, err.Error())
	}
	d.complete(ctx, env, it.Key)
	return advance()
}

func (d *Dispatcher) effect(ctx context.Context, env *Env, it schema.Item) Outcome {
	dur := time.Duration(it.Effect.DurationMs) * time.Millisecond
	if at, ok := schema.ValidCoordinates(env.Object); ok && d.Effects != nil {
		err := d.Effects.Pulse(ctx, overlay.EffectRequest{
			ObjectID: env.ObjectID(),
			ItemKey:  it.Key,
			Kind:     it.Effect.Kind,
			At:       at,
			Duration: dur,
		})
		if err != nil {
			d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
		}
	}
	if it.Blocking && dur > 0 {
		if run.Sleep(ctx, dur) != nil {
			return stop(ReasonCancelled, "")
		}
	}
	d.complete(ctx, env, it.Key)
	return advance()
}

func (d *Dispatcher) action(ctx context.Context, env *Env, it schema.Item) Outcome {
	nodeID := runtime.NodeID(env.ObjectID(), it.Key)

	att, err := d.Runtime.StartActionAttempt(ctx, nodeID)
	if !env.alive() {
		return stop(ReasonCancelled, "")
	}
	if err != nil || att == nil {
		msg := "Could not start this activity. Try again."
		d.traceActionFailed(env, it, "start attempt failed", err)
		d.Host.Notify(msg)
		return stop(ReasonActionFailed, msg)
	}

	ev, err := d.Host.Show(ctx, schema.ItemAction, d.request(env, it, ""))
	if cancelled(ctx) || !env.alive() {
		return stop(ReasonCancelled, "")
	}
	if err != nil {
		msg := "Could not open this activity. Try again."
		d.traceActionFailed(env, it, "overlay failed", err)
		d.Host.Notify(msg)
		return stop(ReasonActionFailed, msg)
	}
	if ev == nil || ev.Cancelled || ev.Empty() {
		d.traceCancelled(env, it, "no evidence")
		return stop(ReasonUserCancelled, "")
	}

	res, err := d.Runtime.SubmitAction(ctx, runtime.ActionSubmission{
		NodeID:         nodeID,
		AttemptID:      att.AttemptID,
		AttemptGroupID: att.AttemptGroupID,
		Evidence:       ev.Map(),
	})
	if !env.alive() {
		return stop(ReasonCancelled, "")
	}
	if err != nil || res == nil {
		msg := "Could not submit your answer. Try again."
		d.traceActionFailed(env, it, "submit failed", err)
		d.Host.Notify(msg)
		return stop(ReasonActionFailed, msg)
	}
	if res.Outcome != runtime.OutcomeSuccess {
		msg := "That was not quite right. Try again."
		if res.VerificationDetails != "" {
			msg = res.VerificationDetails
		}
		d.traceActionFailed(env, it, "verification failed", nil)
		d.Host.Notify(msg)
		return stop(ReasonActionFailed, msg)
	}

	// The runtime records the node; give it a moment to read back.
	d.awaitNode(ctx, nodeID)
	return advance()
}

// awaitNode polls the snapshot until nodeID reads back completed or the
// action confirm window passes.
func (d *Dispatcher) awaitNode(ctx context.Context, nodeID string) bool {
	deadline := time.Now().Add(d.Config.Action.ConfirmWindow)
	for {
		if d.Runtime.Snapshot().Completed(nodeID) {
			return true
		}
		if !time.Now().Before(deadline) || run.Sleep(ctx, d.Config.Action.PollInterval) != nil {
			return false
		}
	}
}

func (d *Dispatcher) document(ctx context.Context, env *Env, it schema.Item) Outcome {
	media := ""
	if it.Document.URL != "" {
		if u, ok := d.resolve(ctx, env, it, it.Document.URL); ok {
			media = u
		}
	}
	req := d.request(env, it, media)

	if !it.Blocking {
		d.background(ctx, func(bctx context.Context) {
			if _, err := d.Host.Show(bctx, schema.ItemDocument, req); err == nil {
				d.completeDetached(bctx, env, it.Key)
			}
		})
		return advance()
	}

	_, err := d.Host.Show(ctx, schema.ItemDocument, req)
	if cancelled(ctx) {
		return stop(ReasonCancelled, "")
	}
	if err != nil {
		d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
		return stop(ReasonOverlayFailed, err.Error())
	}
	d.complete(ctx, env, it.Key)
	return advance()
}

func (d *Dispatcher) ar(ctx context.Context, env *Env, it schema.Item) Outcome {
	ev, err := d.Host.Show(ctx, schema.ItemAR, d.request(env, it, ""))
	if cancelled(ctx) || !env.alive() {
		return stop(ReasonCancelled, "")
	}
	if err != nil {
		d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
		return stop(ReasonOverlayFailed, err.Error())
	}
	if ev != nil && ev.Cancelled {
		d.traceCancelled(env, it, "ar cancelled")
		return stop(ReasonUserCancelled, "")
	}
	d.complete(ctx, env, it.Key)
	return advance()
}

func (d *Dispatcher) puzzle(ctx context.Context, env *Env, it schema.Item) Outcome {
	id := it.PuzzleID()
	if id == "" || !d.Puzzles.HasPuzzle(id) {
		// Stale authoring data must never stall the timeline.
		d.Trace.EmitNode(trace.EventPuzzleIntegrity, env.ObjectID(), it.Key, runtime.NodeID(env.ObjectID(), it.Key), map[string]any{
			"puzzle_id": id,
		})
		return Outcome{Status: StatusLocal}
	}
	if d.Puzzles.CompletedPuzzles()[id] {
		return advance()
	}

	d.Trace.EmitNode(trace.EventPuzzleBlocked, env.ObjectID(), it.Key, runtime.NodeID(env.ObjectID(), it.Key), map[string]any{
		"puzzle_id": id,
	})
	if err := d.Puzzles.OpenPuzzle(ctx, env.ObjectID(), id); err != nil {
		d.Host.Notify(fmt.Sprintf("%s: %v", it.Label(), err))
	}
	return Outcome{Status: StatusBlocked, PuzzleID: id}
}
