// Package steps builds the operator's steps-mode panel: a flat view of a
// timeline's progress plus skip and open shortcuts.
package steps

import (
	"context"
	"fmt"
	"slices"

	"github.com/ormasoftchile/questline/pkg/executor"
	"github.com/ormasoftchile/questline/pkg/progress"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
)

// Row is one line of the panel.
type Row struct {
	Key     string          `json:"key"`
	Type    schema.ItemType `json:"type"`
	Label   string          `json:"label"`
	Enabled bool            `json:"enabled"`
	Done    bool            `json:"done"`
	Current bool            `json:"current"`
	CanOpen bool            `json:"can_open"`
}

// Build derives rows from progress. A puzzle in the solved set is done
// even when its node is not.
func Build(items []schema.Item, st progress.State, solved map[string]bool) []Row {
	rows := make([]Row, 0, len(items))
	for i, it := range items {
		done := st.CompletedKeys[it.Key]
		if it.Type == schema.ItemPuzzle && it.PuzzleID() != "" && solved[it.PuzzleID()] {
			done = true
		}
		rows = append(rows, Row{
			Key:     it.Key,
			Type:    it.Type,
			Label:   it.Label(),
			Enabled: it.Enabled,
			Done:    done,
			Current: i == st.NextIndex,
			CanOpen: executor.Openable(it.Type),
		})
	}
	return rows
}

// Panel is the steps-mode view of one object.
type Panel struct {
	Exec   *executor.Executor
	Quest  *schema.Quest
	Object *schema.Object
}

// New creates a panel for objectID.
func New(exec *executor.Executor, q *schema.Quest, objectID string) (*Panel, error) {
	obj := q.Object(objectID)
	if obj == nil {
		return nil, fmt.Errorf("steps: unknown object %q", objectID)
	}
	return &Panel{Exec: exec, Quest: q, Object: obj}, nil
}

func (p *Panel) timeline() (*schema.Timeline, error) {
	tl, err := schema.Normalize(p.Object)
	if err != nil {
		return nil, fmt.Errorf("steps: %w", err)
	}
	return tl, nil
}

// Rows recomputes the panel from the live snapshot.
func (p *Panel) Rows() ([]Row, error) {
	tl, err := p.timeline()
	if err != nil {
		return nil, err
	}
	st := p.Exec.Progress(tl)
	return Build(tl.Items, st, p.Exec.Puzzles.CompletedPuzzles()), nil
}

func (p *Panel) item(key string) (schema.Item, error) {
	tl, err := p.timeline()
	if err != nil {
		return schema.Item{}, err
	}
	idx := slices.IndexFunc(tl.Items, func(it schema.Item) bool { return it.Key == key })
	if idx < 0 {
		return schema.Item{}, fmt.Errorf("steps: no item %q in %s", key, p.Object.ID)
	}
	return tl.Items[idx], nil
}

// OnSkip force-completes key, stopping whatever is playing for it, and
// restarts the executor from the recomputed progress.
func (p *Panel) OnSkip(ctx context.Context, key string) (*executor.RunResult, error) {
	it, err := p.item(key)
	if err != nil {
		return nil, err
	}
	d := p.Exec.Dispatcher

	p.Exec.Cancel()
	if it.IsAudio() && d.Audio != nil {
		d.Audio.Stop()
	}
	if d.Host != nil {
		d.Host.Close(it.Type)
	}

	switch it.Type {
	case schema.ItemPuzzle:
		id := it.PuzzleID()
		if id == "" || !p.Exec.Puzzles.HasPuzzle(id) {
			p.Exec.MarkLocal(p.Object.ID, key)
			break
		}
		err := p.Exec.Runtime.SubmitPuzzleSuccess(ctx, runtime.PuzzleSuccess{
			PuzzleID: id,
			ObjectID: p.Object.ID,
			Points:   p.points(id, it),
		})
		if err != nil {
			return nil, fmt.Errorf("skip %s: %w", key, err)
		}
	default:
		if !d.Completer.Complete(ctx, p.Object.ID, key) {
			return nil, fmt.Errorf("skip %s: node was not completed", key)
		}
		// A runtime may keep the failed verdict next to the completion;
		// the skip still has to move past the item.
		if p.failed(key) {
			p.Exec.MarkLocal(p.Object.ID, key)
		}
	}
	return p.Exec.Run(ctx, p.Object, executor.Options{Force: true}), nil
}

func (p *Panel) failed(key string) bool {
	n, ok := p.Exec.Runtime.Snapshot().Node(runtime.NodeID(p.Object.ID, key))
	return ok && n.Outcome == runtime.OutcomeFail
}

func (p *Panel) points(id string, it schema.Item) int {
	if it.Puzzle != nil && it.Puzzle.Points > 0 {
		return it.Puzzle.Points
	}
	for _, pz := range p.Quest.Puzzles {
		if pz.ID == id {
			return pz.Points
		}
	}
	return 0
}

// OnOpen enters a puzzle, action or ar item directly.
func (p *Panel) OnOpen(ctx context.Context, key string) (*executor.RunResult, error) {
	it, err := p.item(key)
	if err != nil {
		return nil, err
	}
	if !executor.Openable(it.Type) {
		return nil, fmt.Errorf("steps: %s items have nothing to open", it.Type)
	}
	return p.Exec.Open(ctx, p.Object, key)
}
