package progress

import (
	"reflect"
	"testing"

	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
)

func items() []schema.Item {
	return []schema.Item{
		{Key: "t1", Type: schema.ItemText, Enabled: true},
		{Key: "off", Type: schema.ItemVideo, Enabled: false},
		{Key: "p1", Type: schema.ItemPuzzle, Enabled: true, Puzzle: &schema.PuzzlePayload{PuzzleID: "PZ1"}},
		{Key: "act", Type: schema.ItemAction, Enabled: true},
		{Key: "a1", Type: schema.ItemAudio, Enabled: true},
	}
}

func snap(nodes map[string]runtime.Node) *runtime.Snapshot {
	out := map[string]runtime.Node{}
	for k, n := range nodes {
		out[runtime.NodeID("obj", k)] = n
	}
	return &runtime.Snapshot{Version: 1, Nodes: out}
}

var done = runtime.Node{Status: runtime.NodeCompleted}

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		wantNext int
		wantKeys []string
	}{
		{
			name:     "empty snapshot",
			in:       Input{ObjectID: "obj", Items: items()},
			wantNext: 0,
			wantKeys: []string{},
		},
		{
			name:     "disabled item skipped by scan",
			in:       Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{"t1": done})},
			wantNext: 2,
			wantKeys: []string{"t1"},
		},
		{
			name:     "puzzle solved through the solved set",
			in:       Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{"t1": done}), Solved: map[string]bool{"PZ1": true}},
			wantNext: 3,
			wantKeys: []string{"p1", "t1"},
		},
		{
			name: "failed action stays retryable",
			in: Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{
				"t1": done, "p1": done, "act": {Status: runtime.NodeCompleted, Outcome: runtime.OutcomeFail},
			})},
			wantNext: 3,
			wantKeys: []string{"p1", "t1"},
		},
		{
			name: "failed puzzle node stays retryable",
			in: Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{
				"t1": done, "p1": {Status: runtime.NodeCompleted, Outcome: runtime.OutcomeFail},
			})},
			wantNext: 2,
			wantKeys: []string{"t1"},
		},
		{
			name: "hole is retargeted",
			in: Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{
				"p1": done, "act": done, "a1": done,
			})},
			wantNext: 0,
			wantKeys: []string{"a1", "act", "p1"},
		},
		{
			name:     "local completion counts",
			in:       Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{"t1": done}), Local: map[string]bool{"p1": true}},
			wantNext: 3,
			wantKeys: []string{"p1", "t1"},
		},
		{
			name: "all done",
			in: Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{
				"t1": done, "p1": done, "act": {Status: runtime.NodeCompleted, Outcome: runtime.OutcomeSuccess}, "a1": done,
			})},
			wantNext: 5,
			wantKeys: []string{"a1", "act", "p1", "t1"},
		},
		{
			name:     "reset ignores snapshot",
			in:       Input{ObjectID: "obj", Items: items(), Reset: true, Snapshot: snap(map[string]runtime.Node{"t1": done})},
			wantNext: 0,
			wantKeys: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.in)
			if got.NextIndex != tt.wantNext {
				t.Errorf("NextIndex = %d, want %d", got.NextIndex, tt.wantNext)
			}
			if !reflect.DeepEqual(got.Keys(), tt.wantKeys) {
				t.Errorf("keys = %v, want %v", got.Keys(), tt.wantKeys)
			}
		})
	}
}

func TestCompute_Idempotent(t *testing.T) {
	in := Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{"t1": done}), Solved: map[string]bool{"PZ1": true}}
	a := Compute(in)
	b := Compute(in)
	if !a.Equal(b) {
		t.Errorf("Compute not idempotent: %+v vs %+v", a, b)
	}
}

func TestCompute_DisabledNeverCompleted(t *testing.T) {
	// a completed node for a disabled item is ignored
	in := Input{ObjectID: "obj", Items: items(), Snapshot: snap(map[string]runtime.Node{"off": done})}
	if Compute(in).CompletedKeys["off"] {
		t.Error("disabled item must not be reported completed")
	}
}

func TestCalculator_LiveSnapshot(t *testing.T) {
	q := &schema.Quest{Puzzles: []schema.PuzzleInfo{{ID: "PZ1"}}, Objects: []schema.Object{{ID: "obj"}}}
	m := runtime.NewMemory(q)
	calc := &Calculator{Runtime: m, Puzzles: m}

	if got := calc.Compute("obj", items(), false, nil).NextIndex; got != 0 {
		t.Fatalf("NextIndex = %d, want 0", got)
	}
	m.CompleteNode(t.Context(), runtime.NodeID("obj", "t1"))
	m.SolvePuzzle("PZ1")
	if got := calc.Compute("obj", items(), false, nil).NextIndex; got != 3 {
		t.Errorf("NextIndex = %d, want 3", got)
	}
}
