// Package progress derives timeline progress from the authoritative
// snapshot. Progress is never stored: it is recomputed by a full scan so
// that a silently failed completion is retargeted instead of skipped.
package progress

import (
	"slices"

	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
)

// State is the derived progress of one timeline.
type State struct {
	// NextIndex is the index of the first enabled, not-completed item, or
	// len(items) when every enabled item is done.
	NextIndex         int             `json:"next_index"`
	CompletedKeys     map[string]bool `json:"completed_keys"`
	BlockedByPuzzleID string          `json:"blocked_by_puzzle_id,omitempty"`
}

// Zero returns the reset state.
func Zero() State {
	return State{CompletedKeys: map[string]bool{}}
}

// Keys returns the completed keys sorted, for logs and traces.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.CompletedKeys))
	for k := range s.CompletedKeys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Done reports whether every enabled item is completed.
func (s State) Done(items []schema.Item) bool {
	return s.NextIndex >= len(items)
}

// Equal reports whether two states describe the same progress.
func (s State) Equal(o State) bool {
	if s.NextIndex != o.NextIndex || s.BlockedByPuzzleID != o.BlockedByPuzzleID {
		return false
	}
	if len(s.CompletedKeys) != len(o.CompletedKeys) {
		return false
	}
	for k := range s.CompletedKeys {
		if !o.CompletedKeys[k] {
			return false
		}
	}
	return true
}

// Input is everything Compute reads. Local holds keys the executor
// completed without a node (puzzles with bad data).
type Input struct {
	ObjectID string
	Items    []schema.Item
	Reset    bool
	Snapshot *runtime.Snapshot
	Solved   map[string]bool
	Local    map[string]bool
}

// Compute derives progress. It is a pure function of its input.
func Compute(in Input) State {
	if in.Reset {
		return Zero()
	}
	st := State{CompletedKeys: map[string]bool{}, NextIndex: len(in.Items)}
	for _, it := range in.Items {
		if !it.Enabled {
			continue
		}
		if completed(in, it) {
			st.CompletedKeys[it.Key] = true
		}
	}
	for i, it := range in.Items {
		if it.Enabled && !st.CompletedKeys[it.Key] {
			st.NextIndex = i
			break
		}
	}
	return st
}

func completed(in Input, it schema.Item) bool {
	if in.Local[it.Key] {
		return true
	}
	if it.Type == schema.ItemPuzzle && it.PuzzleID() != "" && in.Solved[it.PuzzleID()] {
		return true
	}
	n, ok := in.Snapshot.Node(runtime.NodeID(in.ObjectID, it.Key))
	if !ok || n.Status != runtime.NodeCompleted {
		return false
	}
	// An explicit failure stays retryable.
	if (it.Type == schema.ItemPuzzle || it.Type == schema.ItemAction) && n.Outcome == runtime.OutcomeFail {
		return false
	}
	return true
}

// Calculator computes progress against a live runtime.
type Calculator struct {
	Runtime runtime.Runtime
	Puzzles runtime.Puzzles
}

// Compute reads the current snapshot and solved set and derives progress.
func (c *Calculator) Compute(objectID string, items []schema.Item, reset bool, local map[string]bool) State {
	in := Input{ObjectID: objectID, Items: items, Reset: reset, Local: local}
	if c.Runtime != nil {
		in.Snapshot = c.Runtime.Snapshot()
	}
	if c.Puzzles != nil {
		in.Solved = c.Puzzles.CompletedPuzzles()
	}
	return Compute(in)
}
