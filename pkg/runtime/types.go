// Package runtime defines the contract of the authoritative, versioned
// progress store the engine writes through, plus an in-memory implementation.
package runtime

import (
	"context"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// NodeStatus is the persisted completion status of a node.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeCompleted NodeStatus = "completed"
)

// Outcome is the recorded verification outcome of a node.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// EndNodeKey is the item key of the synthetic end-of-timeline node.
const EndNodeKey = schema.EndNodeKey

// Node is the authoritative completion record of one timeline item.
type Node struct {
	Status  NodeStatus `json:"status"`
	Outcome Outcome    `json:"outcome,omitempty"`
}

// Snapshot is an immutable view of the authoritative state. Writers
// publish a new Snapshot rather than mutating a published one.
type Snapshot struct {
	Version         int64           `json:"version"`
	Nodes           map[string]Node `json:"nodes"`
	CurrentObjectID string          `json:"current_object_id,omitempty"`
}

// Node returns the node with the given id. Safe on a nil snapshot.
func (s *Snapshot) Node(id string) (Node, bool) {
	if s == nil {
		return Node{}, false
	}
	n, ok := s.Nodes[id]
	return n, ok
}

// Completed reports whether the node reads back as completed.
func (s *Snapshot) Completed(id string) bool {
	n, ok := s.Node(id)
	return ok && n.Status == NodeCompleted
}

// VersionOf returns the snapshot version, 0 for a nil snapshot.
func (s *Snapshot) VersionOf() int64 {
	if s == nil {
		return 0
	}
	return s.Version
}

// NodeID derives the node identity for an item. It is the only identity
// function: reads and writes address nodes through it, so ids are stable
// across restarts.
func NodeID(objectID, itemKey string) string {
	return objectID + "::" + itemKey
}

// Attempt identifies one verification attempt of an action node.
type Attempt struct {
	AttemptID      string `json:"attempt_id"`
	AttemptGroupID string `json:"attempt_group_id"`
}

// ActionSubmission carries player evidence for an attempt.
type ActionSubmission struct {
	NodeID         string         `json:"node_id"`
	AttemptID      string         `json:"attempt_id"`
	AttemptGroupID string         `json:"attempt_group_id"`
	Evidence       map[string]any `json:"evidence"`
}

// ActionResult is the runtime's verdict on a submission.
type ActionResult struct {
	Outcome             Outcome `json:"outcome"`
	VerificationDetails string  `json:"verification_details,omitempty"`
}

// PuzzleSuccess records a solved puzzle, used by the skip paths.
type PuzzleSuccess struct {
	PuzzleID string `json:"puzzle_id"`
	ObjectID string `json:"object_id"`
	Points   int    `json:"points"`
}

// Runtime is the authoritative store. Every method that performs I/O
// takes a context; results of calls made by a stale run are discarded by
// the caller, not aborted here.
type Runtime interface {
	Snapshot() *Snapshot
	CompleteNode(ctx context.Context, nodeID string) error
	Refresh(ctx context.Context) error
	StartActionAttempt(ctx context.Context, nodeID string) (*Attempt, error)
	SubmitAction(ctx context.Context, sub ActionSubmission) (*ActionResult, error)
	SubmitPuzzleSuccess(ctx context.Context, ps PuzzleSuccess) error
}

// Puzzles is the externally maintained puzzle catalog and solved set.
type Puzzles interface {
	HasPuzzle(id string) bool
	CompletedPuzzles() map[string]bool
	OpenPuzzle(ctx context.Context, objectID, puzzleID string) error
}
