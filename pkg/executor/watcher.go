package executor

import (
	"context"
	"sync"

	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/trace"
)

// Watcher resumes runs suspended on a puzzle once that puzzle is solved.
// Each (object, puzzle) pair resumes at most once, however often the
// solved set is observed.
type Watcher struct {
	Exec *Executor
	// Lookup resolves an object id to the object to replay.
	Lookup func(objectID string) *schema.Object
	Trace  *trace.Writer
	// OnResult, when set, receives the result of every resumed run.
	OnResult func(*RunResult)

	mu      sync.Mutex
	resumed map[string]bool
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher resuming objects of q.
func NewWatcher(exec *Executor, q *schema.Quest, tw *trace.Writer) *Watcher {
	return &Watcher{Exec: exec, Lookup: q.Object, Trace: tw}
}

// Observe checks every suspended run against solved and resumes those
// whose puzzle appeared. It returns the resumed object ids.
func (w *Watcher) Observe(ctx context.Context, solved map[string]bool) []string {
	w.Exec.mu.Lock()
	var due [][2]string
	for objectID, puzzleID := range w.Exec.blocked {
		if solved[puzzleID] {
			due = append(due, [2]string{objectID, puzzleID})
		}
	}
	w.Exec.mu.Unlock()

	var ids []string
	for _, p := range due {
		objectID, puzzleID := p[0], p[1]
		key := objectID + "/" + puzzleID
		w.mu.Lock()
		if w.resumed == nil {
			w.resumed = map[string]bool{}
		}
		seen := w.resumed[key]
		w.resumed[key] = true
		w.mu.Unlock()
		if seen {
			continue
		}
		obj := w.Lookup(objectID)
		if obj == nil {
			continue
		}
		w.Trace.Emit(trace.EventRunResumed, map[string]any{
			"object_id": objectID,
			"puzzle_id": puzzleID,
		})
		ids = append(ids, objectID)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			res := w.Exec.Run(ctx, obj, Options{})
			if w.OnResult != nil {
				w.OnResult(res)
			}
		}()
	}
	return ids
}

// Watch observes every change until ctx ends or updates closes.
func (w *Watcher) Watch(ctx context.Context, updates <-chan runtime.Change, puzzles runtime.Puzzles) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			w.Observe(ctx, puzzles.CompletedPuzzles())
		}
	}
}

// Wait blocks until every resumed run has returned.
func (w *Watcher) Wait() { w.wg.Wait() }
