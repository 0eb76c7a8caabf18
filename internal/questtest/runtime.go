// Package questtest provides fakes for exercising the engine in tests.
package questtest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
)

// Runtime wraps runtime.Memory, records every write and injects faults.
type Runtime struct {
	*runtime.Memory

	mu          sync.Mutex
	completes   []string
	refreshes   int
	conflicts   map[string]int
	failures    map[string]error
	lagging     map[string]bool
	pending     []string
	dropped     map[string]bool
	bumpOnDrop  bool
	opened      []string
	submissions []runtime.ActionSubmission
	successes   []runtime.PuzzleSuccess

	// StartErr, when set, fails StartActionAttempt.
	StartErr error
	// SubmitErr, when set, fails SubmitAction.
	SubmitErr error
	// SubmitNil makes SubmitAction return no result and no error.
	SubmitNil bool
	// SubmitResult, when set, is returned by SubmitAction without
	// recording the verdict, as a runtime that confirms asynchronously.
	SubmitResult *runtime.ActionResult
	// OnComplete runs after every accepted CompleteNode call.
	OnComplete func(nodeID string)
}

// NewRuntime builds a recording runtime for the quest.
func NewRuntime(q *schema.Quest) *Runtime {
	return &Runtime{
		Memory:    runtime.NewMemory(q),
		conflicts: map[string]int{},
		failures:  map[string]error{},
		lagging:   map[string]bool{},
		dropped:   map[string]bool{},
	}
}

// Conflict makes the next n CompleteNode calls for nodeID fail with
// runtime.ErrConflict.
func (r *Runtime) Conflict(nodeID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[nodeID] = n
}

// Fail makes every CompleteNode call for nodeID fail with err.
func (r *Runtime) Fail(nodeID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[nodeID] = err
}

// Lag accepts writes for nodeID but only applies them on Refresh.
func (r *Runtime) Lag(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lagging[nodeID] = true
}

// Drop accepts writes for nodeID and never applies them. With bump, the
// snapshot version still advances, as when another writer raced us.
func (r *Runtime) Drop(nodeID string, bump bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[nodeID] = true
	r.bumpOnDrop = bump
}

// CompleteNode records the call and applies injected faults.
func (r *Runtime) CompleteNode(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	r.completes = append(r.completes, nodeID)
	if err := r.failures[nodeID]; err != nil {
		r.mu.Unlock()
		return err
	}
	if n := r.conflicts[nodeID]; n > 0 {
		r.conflicts[nodeID] = n - 1
		r.mu.Unlock()
		return runtime.ErrConflict
	}
	if r.dropped[nodeID] {
		bump := r.bumpOnDrop
		r.mu.Unlock()
		if bump {
			r.Memory.SetCurrentObject(r.Memory.Snapshot().CurrentObjectID)
		}
		return nil
	}
	if r.lagging[nodeID] {
		r.pending = append(r.pending, nodeID)
		r.mu.Unlock()
		return nil
	}
	hook := r.OnComplete
	r.mu.Unlock()

	if err := r.Memory.CompleteNode(ctx, nodeID); err != nil {
		return err
	}
	if hook != nil {
		hook(nodeID)
	}
	return nil
}

// Refresh applies lagging writes.
func (r *Runtime) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.refreshes++
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, id := range pending {
		if err := r.Memory.CompleteNode(ctx, id); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// StartActionAttempt honours StartErr.
func (r *Runtime) StartActionAttempt(ctx context.Context, nodeID string) (*runtime.Attempt, error) {
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	return r.Memory.StartActionAttempt(ctx, nodeID)
}

// SubmitAction records the submission and honours SubmitErr, SubmitNil
// and SubmitResult.
func (r *Runtime) SubmitAction(ctx context.Context, sub runtime.ActionSubmission) (*runtime.ActionResult, error) {
	r.mu.Lock()
	r.submissions = append(r.submissions, sub)
	r.mu.Unlock()
	if r.SubmitErr != nil {
		return nil, r.SubmitErr
	}
	if r.SubmitNil {
		return nil, nil
	}
	if r.SubmitResult != nil {
		res := *r.SubmitResult
		return &res, nil
	}
	return r.Memory.SubmitAction(ctx, sub)
}

// SubmitPuzzleSuccess records the call.
func (r *Runtime) SubmitPuzzleSuccess(ctx context.Context, ps runtime.PuzzleSuccess) error {
	r.mu.Lock()
	r.successes = append(r.successes, ps)
	r.mu.Unlock()
	return r.Memory.SubmitPuzzleSuccess(ctx, ps)
}

// OpenPuzzle records the navigation.
func (r *Runtime) OpenPuzzle(ctx context.Context, objectID, puzzleID string) error {
	r.mu.Lock()
	r.opened = append(r.opened, objectID+"/"+puzzleID)
	r.mu.Unlock()
	return r.Memory.OpenPuzzle(ctx, objectID, puzzleID)
}

// Completes returns every CompleteNode call in order.
func (r *Runtime) Completes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.completes)
}

// CompletesFor returns the CompleteNode calls for one object.
func (r *Runtime) CompletesFor(objectID string) []string {
	var out []string
	for _, id := range r.Completes() {
		if strings.HasPrefix(id, objectID+"::") {
			out = append(out, id)
		}
	}
	return out
}

// Refreshes returns the number of Refresh calls.
func (r *Runtime) Refreshes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes
}

// Opened returns the puzzle navigations as "object/puzzle".
func (r *Runtime) Opened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.opened)
}

// Submissions returns every action submission.
func (r *Runtime) Submissions() []runtime.ActionSubmission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.submissions)
}

// PuzzleSuccesses returns every SubmitPuzzleSuccess call.
func (r *Runtime) PuzzleSuccesses() []runtime.PuzzleSuccess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.successes)
}
