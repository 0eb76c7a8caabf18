package runtime

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
)

// State is the persisted form of a Memory runtime.
type State struct {
	Snapshot *Snapshot       `json:"snapshot"`
	Solved   map[string]bool `json:"solved,omitempty"`
	Points   int             `json:"points,omitempty"`
}

// SaveState persists the snapshot and solved puzzles to a JSON file.
func (m *Memory) SaveState(path string) error {
	m.mu.Lock()
	state := State{Snapshot: m.snap, Solved: maps.Clone(m.solved), Points: m.points}
	m.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// LoadState replaces the runtime's state with the contents of a JSON file.
// Open attempts are not persisted.
func (m *Memory) LoadState(path string) error {
	state, err := ReadState(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.Solved == nil {
		state.Solved = map[string]bool{}
	}
	m.solved = state.Solved
	m.points = state.Points
	snap := state.Snapshot
	if snap == nil {
		snap = &Snapshot{}
	}
	if snap.Nodes == nil {
		snap.Nodes = map[string]Node{}
	}
	m.snap = snap
	return nil
}

// ReadState reads a persisted State without a runtime.
func ReadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}
