// Package recorder captures a live play session as a scenario that the
// scripted overlays can replay.
package recorder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/schema"
)

// Recorder observes overlays, audio and puzzle solving and builds an
// overlay.Scenario from what the player did.
type Recorder struct {
	mu        sync.Mutex
	scenario  overlay.Scenario
	navigated map[string]time.Time
	secrets   []string // env var names whose values should be redacted
	now       func() time.Time
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{
		scenario: overlay.Scenario{
			Steps: map[string]overlay.StepScript{},
			Audio: map[string]overlay.AudioScript{},
			Solve: map[string]overlay.SolveScript{},
		},
		navigated: map[string]time.Time{},
		now:       time.Now,
	}
}

// SetSecrets configures secret env var names whose values are redacted in captured evidence.
func (r *Recorder) SetSecrets(envVars []string) {
	r.secrets = envVars
}

// Host wraps inner so every overlay the player finishes is recorded.
func (r *Recorder) Host(inner overlay.Host) overlay.Host {
	return &host{rec: r, inner: inner}
}

// Audio wraps inner so blocking playback durations are recorded.
func (r *Recorder) Audio(inner overlay.AudioPlayer) overlay.AudioPlayer {
	return &audio{rec: r, inner: inner}
}

// Navigator wraps a navigation hook to note when each puzzle was opened.
func (r *Recorder) Navigator(next func(objectID, puzzleID string)) func(objectID, puzzleID string) {
	return func(objectID, puzzleID string) {
		r.mu.Lock()
		r.navigated[puzzleID] = r.now()
		r.mu.Unlock()
		if next != nil {
			next(objectID, puzzleID)
		}
	}
}

// Solver wraps a solve function to record how long after navigation the
// puzzle was solved. Solves without a prior navigation record no delay.
func (r *Recorder) Solver(next func(puzzleID string) error) func(puzzleID string) error {
	return func(puzzleID string) error {
		if err := next(puzzleID); err != nil {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		var script overlay.SolveScript
		if at, ok := r.navigated[puzzleID]; ok {
			script.DelayMs = millis(r.now().Sub(at))
		}
		r.scenario.Solve[puzzleID] = script
		return nil
	}
}

// Scenario returns a copy of what has been recorded so far.
func (r *Recorder) Scenario() *overlay.Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &overlay.Scenario{
		Steps: make(map[string]overlay.StepScript, len(r.scenario.Steps)),
		Audio: make(map[string]overlay.AudioScript, len(r.scenario.Audio)),
		Solve: make(map[string]overlay.SolveScript, len(r.scenario.Solve)),
	}
	for k, v := range r.scenario.Steps {
		out.Steps[k] = v
	}
	for k, v := range r.scenario.Audio {
		out.Audio[k] = v
	}
	for k, v := range r.scenario.Solve {
		out.Solve[k] = v
	}
	return out
}

// Save writes the recorded scenario as YAML.
func (r *Recorder) Save(path string) error {
	data, err := yaml.Marshal(r.Scenario())
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write scenario: %w", err)
	}
	return nil
}

func (r *Recorder) recordStep(key string, sc overlay.StepScript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenario.Steps[key] = sc
}

func (r *Recorder) recordAudio(key string, sc overlay.AudioScript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenario.Audio[key] = sc
}

// redact replaces secret values with <REDACTED>.
func (r *Recorder) redact(s string) string {
	for _, envVar := range r.secrets {
		val := os.Getenv(envVar)
		if val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}

// redactMap redacts secret values in a map.
func (r *Recorder) redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = r.redact(s)
		} else {
			out[k] = v
		}
	}
	return out
}

type host struct {
	rec   *Recorder
	inner overlay.Host
}

// Show records the player's answer. Overlays ended by ctx were closed by
// the engine, not the player, and are not recorded.
func (h *host) Show(ctx context.Context, kind schema.ItemType, req overlay.Request) (*overlay.Evidence, error) {
	start := h.rec.now()
	ev, err := h.inner.Show(ctx, kind, req)
	if ctx.Err() != nil {
		return ev, err
	}
	sc := overlay.StepScript{DelayMs: millis(h.rec.now().Sub(start))}
	switch {
	case err != nil:
		sc.Error = err.Error()
	case ev != nil && ev.Cancelled:
		sc.Cancelled = true
	case ev != nil:
		sc.Text = h.rec.redact(ev.Text)
		sc.Data = h.rec.redactMap(ev.Data)
		for _, a := range ev.Attachments {
			sc.Attachments = append(sc.Attachments, a.Path)
		}
	}
	h.rec.recordStep(req.Item.Key, sc)
	return ev, err
}

func (h *host) Close(kind schema.ItemType) { h.inner.Close(kind) }

func (h *host) Notify(message string) { h.inner.Notify(message) }

type audio struct {
	rec   *Recorder
	inner overlay.AudioPlayer
}

func (a *audio) Play(ctx context.Context, req overlay.AudioRequest) error {
	start := a.rec.now()
	err := a.inner.Play(ctx, req)
	if ctx.Err() != nil {
		return err
	}
	sc := overlay.AudioScript{DurationMs: millis(a.rec.now().Sub(start))}
	if err != nil {
		sc.Error = err.Error()
	}
	a.rec.recordAudio(req.ItemKey, sc)
	return err
}

func (a *audio) PlayBackground(ctx context.Context, req overlay.AudioRequest) error {
	return a.inner.PlayBackground(ctx, req)
}

func (a *audio) Stop() { a.inner.Stop() }

func millis(d time.Duration) int {
	return int(d / time.Millisecond)
}
