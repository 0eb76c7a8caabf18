package runtime

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// Verifier decides the outcome of an action submission.
type Verifier func(ctx context.Context, sub ActionSubmission) ActionResult

// AcceptNonEmpty is the default verifier: any evidence succeeds.
func AcceptNonEmpty(_ context.Context, sub ActionSubmission) ActionResult {
	if len(sub.Evidence) == 0 {
		return ActionResult{Outcome: OutcomeFail, VerificationDetails: "no evidence"}
	}
	return ActionResult{Outcome: OutcomeSuccess}
}

// Navigator is told when the engine asks to open a puzzle.
type Navigator func(objectID, puzzleID string)

// Change is published to subscribers after every accepted write.
type Change struct {
	Version         int64
	CurrentObjectID string
	Solved          map[string]bool
}

// Memory is an in-process Runtime and Puzzles implementation. Writes
// publish a fresh Snapshot; published snapshots are never mutated.
type Memory struct {
	mu       sync.Mutex
	snap     *Snapshot
	catalog  map[string]int // puzzle id → points
	solved   map[string]bool
	points   int
	order    []string // object ids in quest order
	attempts map[string]attemptRecord
	groups   map[string]string // node id → attempt group id
	verify   Verifier
	navigate Navigator
	subs     map[int]chan Change
	nextSub  int
}

type attemptRecord struct {
	nodeID string
	group  string
	used   bool
}

// NewMemory creates a runtime seeded from a quest: the puzzle catalog,
// the object order and the first object as current.
func NewMemory(q *schema.Quest) *Memory {
	m := &Memory{
		snap:     &Snapshot{Nodes: map[string]Node{}},
		catalog:  map[string]int{},
		solved:   map[string]bool{},
		attempts: map[string]attemptRecord{},
		groups:   map[string]string{},
		verify:   AcceptNonEmpty,
		subs:     map[int]chan Change{},
	}
	if q != nil {
		for _, p := range q.Puzzles {
			m.catalog[p.ID] = p.Points
		}
		for _, o := range q.Objects {
			m.order = append(m.order, o.ID)
		}
		if len(m.order) > 0 {
			m.snap.CurrentObjectID = m.order[0]
		}
	}
	return m
}

// SetVerifier replaces the action verifier.
func (m *Memory) SetVerifier(v Verifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verify = v
}

// SetNavigator installs the puzzle navigation hook.
func (m *Memory) SetNavigator(n Navigator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navigate = n
}

// Snapshot returns the current published snapshot.
func (m *Memory) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// CompleteNode marks a node completed, overriding a failed verdict.
// Completing an object's end node moves the current-object pointer to
// the next object.
func (m *Memory) CompleteNode(ctx context.Context, nodeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cloneLocked()
	n := next.Nodes[nodeID]
	n.Status = NodeCompleted
	if n.Outcome == OutcomeFail {
		n.Outcome = OutcomeSuccess
	}
	next.Nodes[nodeID] = n
	if objectID, ok := strings.CutSuffix(nodeID, "::"+EndNodeKey); ok && next.CurrentObjectID == objectID {
		next.CurrentObjectID = m.objectAfter(objectID)
	}
	m.publishLocked(next)
	return nil
}

// Refresh is a no-op: the in-memory snapshot is always current.
func (m *Memory) Refresh(ctx context.Context) error {
	return ctx.Err()
}

// StartActionAttempt opens a new attempt. Attempts on the same node share
// a group id.
func (m *Memory) StartActionAttempt(ctx context.Context, nodeID string) (*Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if nodeID == "" {
		return nil, fmt.Errorf("start attempt: empty node id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[nodeID]
	if !ok {
		group = uuid.NewString()
		m.groups[nodeID] = group
	}
	id := uuid.NewString()
	m.attempts[id] = attemptRecord{nodeID: nodeID, group: group}
	return &Attempt{AttemptID: id, AttemptGroupID: group}, nil
}

// SubmitAction verifies evidence for an open attempt and records the
// outcome on the node.
func (m *Memory) SubmitAction(ctx context.Context, sub ActionSubmission) (*ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	rec, ok := m.attempts[sub.AttemptID]
	switch {
	case !ok:
		m.mu.Unlock()
		return nil, fmt.Errorf("submit action: unknown attempt %q", sub.AttemptID)
	case rec.used:
		m.mu.Unlock()
		return nil, fmt.Errorf("submit action: attempt %q already submitted", sub.AttemptID)
	case rec.nodeID != sub.NodeID || rec.group != sub.AttemptGroupID:
		m.mu.Unlock()
		return nil, fmt.Errorf("submit action: attempt %q does not belong to node %q", sub.AttemptID, sub.NodeID)
	}
	rec.used = true
	m.attempts[sub.AttemptID] = rec
	verify := m.verify
	m.mu.Unlock()

	res := verify(ctx, sub)

	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cloneLocked()
	n := next.Nodes[sub.NodeID]
	n.Outcome = res.Outcome
	if res.Outcome == OutcomeSuccess {
		n.Status = NodeCompleted
	}
	next.Nodes[sub.NodeID] = n
	m.publishLocked(next)
	return &res, nil
}

// SubmitPuzzleSuccess records a solved puzzle and awards its points.
func (m *Memory) SubmitPuzzleSuccess(ctx context.Context, ps PuzzleSuccess) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.catalog[ps.PuzzleID]; !ok {
		return fmt.Errorf("submit puzzle: unknown puzzle %q", ps.PuzzleID)
	}
	m.solveLocked(ps.PuzzleID, ps.Points)
	return nil
}

// SolvePuzzle marks a puzzle solved from outside the engine (the puzzle
// screen, a remote device) with its catalog points.
func (m *Memory) SolvePuzzle(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pts, ok := m.catalog[id]
	if !ok {
		return fmt.Errorf("solve puzzle: unknown puzzle %q", id)
	}
	m.solveLocked(id, pts)
	return nil
}

func (m *Memory) solveLocked(id string, points int) {
	if m.solved[id] {
		return
	}
	m.solved = maps.Clone(m.solved)
	m.solved[id] = true
	m.points += points
	m.publishLocked(m.cloneLocked())
}

// HasPuzzle reports whether id is in the catalog.
func (m *Memory) HasPuzzle(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.catalog[id]
	return ok
}

// CompletedPuzzles returns a copy of the solved set.
func (m *Memory) CompletedPuzzles() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.solved)
}

// OpenPuzzle forwards a navigation request to the installed Navigator.
func (m *Memory) OpenPuzzle(ctx context.Context, objectID, puzzleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	nav := m.navigate
	m.mu.Unlock()
	if nav != nil {
		nav(objectID, puzzleID)
	}
	return nil
}

// Points returns the total awarded puzzle points.
func (m *Memory) Points() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points
}

// SetCurrentObject moves the current-object pointer.
func (m *Memory) SetCurrentObject(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cloneLocked()
	next.CurrentObjectID = id
	m.publishLocked(next)
}

// Subscribe returns a channel of changes and a function that ends the
// subscription. Slow subscribers miss intermediate changes; each Change
// carries the full solved set so the latest one is sufficient.
func (m *Memory) Subscribe() (<-chan Change, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Change, 16)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Memory) cloneLocked() *Snapshot {
	return &Snapshot{
		Version:         m.snap.Version,
		Nodes:           maps.Clone(m.snap.Nodes),
		CurrentObjectID: m.snap.CurrentObjectID,
	}
}

func (m *Memory) publishLocked(next *Snapshot) {
	if next.Nodes == nil {
		next.Nodes = map[string]Node{}
	}
	next.Version = m.snap.Version + 1
	m.snap = next
	change := Change{
		Version:         next.Version,
		CurrentObjectID: next.CurrentObjectID,
		Solved:          maps.Clone(m.solved),
	}
	for _, ch := range m.subs {
		offer(ch, change)
	}
}

func (m *Memory) objectAfter(id string) string {
	for i, o := range m.order {
		if o == id && i+1 < len(m.order) {
			return m.order[i+1]
		}
	}
	return ""
}

// offer performs a non-blocking send.
func offer[T any](ch chan<- T, value T) bool {
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}
