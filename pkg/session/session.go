// Package session assembles a playable quest: the in-memory runtime, the
// completion client, the step dispatcher, the executor and its resume
// watcher, wired to whichever overlays front the player.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ormasoftchile/questline/pkg/completion"
	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/executor"
	"github.com/ormasoftchile/questline/pkg/handlers"
	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/trace"
	"github.com/ormasoftchile/questline/pkg/validate"
)

// Overlays are the player-facing collaborators of a session.
type Overlays struct {
	Host    overlay.Host
	Audio   overlay.AudioPlayer
	Effects overlay.Effects
	Media   overlay.MediaResolver
}

// Session is one quest being played.
type Session struct {
	Quest   *schema.Quest
	Runtime *runtime.Memory
	Exec    *executor.Executor
	Watcher *executor.Watcher
	Gate    *executor.ExprGate
	Config  config.Config
	Trace   *trace.Writer

	resumed chan *executor.RunResult
}

// Load validates the quest at path and creates its runtime, restoring
// the state file named by cfg when it exists.
func Load(path string, cfg config.Config) (*schema.Quest, *runtime.Memory, error) {
	q, errs := validate.ValidateFile(path)
	if validate.HasErrors(errs) {
		return nil, nil, fmt.Errorf("quest %s is invalid: %w", path, firstError(errs))
	}
	rt := runtime.NewMemory(q)
	if cfg.StatePath != "" {
		err := rt.LoadState(cfg.StatePath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
	}
	return q, rt, nil
}

func firstError(errs []*validate.ValidationError) error {
	for _, e := range errs {
		if e.Severity == "error" {
			return e
		}
	}
	return nil
}

// New wires a session for q on rt.
func New(q *schema.Quest, rt *runtime.Memory, cfg config.Config, ov Overlays, tw *trace.Writer) (*Session, error) {
	if ov.Host == nil {
		return nil, errors.New("session: an overlay host is required")
	}
	if ov.Audio == nil {
		return nil, errors.New("session: an audio player is required")
	}
	gate, err := executor.NewExprGate(cfg.Gate)
	if err != nil {
		return nil, err
	}
	d := &handlers.Dispatcher{
		Runtime:   rt,
		Puzzles:   rt,
		Completer: completion.New(rt, cfg.Completion, tw),
		Host:      ov.Host,
		Audio:     ov.Audio,
		Effects:   ov.Effects,
		Media:     ov.Media,
		Config:    cfg,
		Trace:     tw,
	}
	s := &Session{
		Quest:   q,
		Runtime: rt,
		Exec:    executor.New(d, cfg, tw),
		Gate:    gate,
		Config:  cfg,
		Trace:   tw,
		resumed: make(chan *executor.RunResult, 16),
	}
	s.Exec.Gate = gate
	s.Watcher = executor.NewWatcher(s.Exec, q, tw)
	s.Watcher.OnResult = func(res *executor.RunResult) {
		select {
		case s.resumed <- res:
		default:
		}
	}
	return s, nil
}

// Object looks up an object of the quest, failing on an unknown id.
func (s *Session) Object(id string) (*schema.Object, error) {
	obj := s.Quest.Object(id)
	if obj == nil {
		return nil, fmt.Errorf("object %q not found in quest %s", id, s.Quest.Name)
	}
	return obj, nil
}

// Play runs one object's timeline and persists the state.
func (s *Session) Play(ctx context.Context, objectID string, opts executor.Options) (*executor.RunResult, error) {
	obj, err := s.Object(objectID)
	if err != nil {
		return nil, err
	}
	res := s.Exec.Run(ctx, obj, opts)
	return res, s.Save()
}

// Autoplay plays the quest from its current object until the quest ends,
// a run stops, or ctx is done. A run suspended on a puzzle waits for the
// watcher to resume it.
func (s *Session) Autoplay(ctx context.Context) ([]*executor.RunResult, error) {
	updates, unsubscribe := s.Runtime.Subscribe()
	defer unsubscribe()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.Watcher.Watch(watchCtx, updates, s.Runtime)

	var results []*executor.RunResult
	played := map[string]bool{}
	for {
		objectID := s.Runtime.Snapshot().CurrentObjectID
		if objectID == "" {
			return results, nil
		}
		if played[objectID] {
			return results, fmt.Errorf("object %s completed without advancing the quest", objectID)
		}
		played[objectID] = true
		obj, err := s.Object(objectID)
		if err != nil {
			return results, err
		}

		res := s.Exec.Run(ctx, obj, executor.Options{})
		for {
			results = append(results, res)
			if err := s.Save(); err != nil {
				return results, err
			}
			if res.Status != executor.StatusSuspended {
				break
			}
			// The puzzle may have been solved before the suspension was
			// registered, so look once without waiting for a change.
			s.Watcher.Observe(ctx, s.Runtime.CompletedPuzzles())
			select {
			case res = <-s.resumed:
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}
		if res.Status != executor.StatusCompleted {
			return results, nil
		}
	}
}

// Save writes the runtime state to the configured state file, if any.
func (s *Session) Save() error {
	if s.Config.StatePath == "" {
		return nil
	}
	return s.Runtime.SaveState(s.Config.StatePath)
}

// Close waits for background work and saves the state.
func (s *Session) Close() error {
	s.Watcher.Wait()
	s.Exec.Wait()
	return s.Save()
}

// RemoveState deletes the state file so the next session starts fresh.
func RemoveState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}
