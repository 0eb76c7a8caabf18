package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/ormasoftchile/questline/internal/questtest"
	"github.com/ormasoftchile/questline/pkg/completion"
	"github.com/ormasoftchile/questline/pkg/executor"
	"github.com/ormasoftchile/questline/pkg/handlers"
	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/progress"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/steps"
)

func newModel(t *testing.T) (Model, *questtest.Runtime) {
	t.Helper()
	body := schema.ItemSpec{Key: "t1", Type: schema.ItemText, Text: &schema.TextPayload{Body: "# Welcome\nFind the **fountain**."}}
	q := questtest.Quest([]string{"PZ1"}, questtest.Object("obj",
		body,
		questtest.Puzzle("p1", "PZ1"),
		questtest.Text("t3", true),
	))
	rt := questtest.NewRuntime(q)
	host := overlay.NewScripted(nil)
	cfg := questtest.FastConfig()
	d := &handlers.Dispatcher{
		Runtime:   rt,
		Puzzles:   rt,
		Completer: completion.New(rt, cfg.Completion, nil),
		Host:      host,
		Audio:     host,
		Effects:   host,
		Config:    cfg,
	}
	exec := executor.New(d, cfg, nil)
	panel, err := steps.New(exec, q, "obj")
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewModel(context.Background(), panel, Subscribe(exec))
	if err != nil {
		t.Fatal(err)
	}
	return m, rt
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_RowsAndCursor(t *testing.T) {
	m, _ := newModel(t)
	rows, err := m.panel.Rows()
	if err != nil {
		t.Fatal(err)
	}
	m, _ = update(t, m, rowsMsg{rows: rows})
	if len(m.rows.rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(m.rows.rows))
	}
	if r, _ := m.rows.Selected(); r.Key != "t1" {
		t.Errorf("cursor on %q, want t1", r.Key)
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if r, _ := m.rows.Selected(); r.Key != "p1" {
		t.Errorf("after down: cursor on %q, want p1", r.Key)
	}
	m, _ = update(t, m, runeKey("k"))
	if r, _ := m.rows.Selected(); r.Key != "t1" {
		t.Errorf("after k: cursor on %q, want t1", r.Key)
	}
}

func TestModel_UIUpdateMarksBlockedPuzzle(t *testing.T) {
	m, _ := newModel(t)
	ui := executor.UI{
		ObjectID: "obj",
		Running:  false,
		Message:  "waiting",
		Progress: progress.State{NextIndex: 1, BlockedByPuzzleID: "PZ1"},
	}
	m, cmd := update(t, m, uiMsg{ui: ui})
	if m.rows.blocked != "p1" {
		t.Errorf("blocked = %q, want p1", m.rows.blocked)
	}
	if m.message != "waiting" {
		t.Errorf("message = %q", m.message)
	}
	if cmd == nil {
		t.Error("ui update should refresh and keep listening")
	}

	m, _ = update(t, m, uiMsg{ui: executor.UI{ObjectID: "other", Running: true}})
	if m.running {
		t.Error("updates for other objects must be ignored")
	}
}

func TestModel_SkipRunsPanel(t *testing.T) {
	m, rt := newModel(t)
	rows, _ := m.panel.Rows()
	m, _ = update(t, m, rowsMsg{rows: rows})

	m, cmd := update(t, m, runeKey("s"))
	if cmd == nil {
		t.Fatal("skip should return a command")
	}
	msg := cmd()
	res, ok := msg.(resultMsg)
	if !ok {
		t.Fatalf("msg = %T", msg)
	}
	if res.err != nil {
		t.Fatal(res.err)
	}
	m, _ = update(t, m, res)
	if !strings.HasPrefix(m.message, "skip t1: suspended") {
		t.Errorf("message = %q", m.message)
	}
	if got := rt.Completes(); len(got) != 1 {
		t.Errorf("completes = %v", got)
	}
}

func TestModel_OpenOnlyForOpenableRows(t *testing.T) {
	m, _ := newModel(t)
	rows, _ := m.panel.Rows()
	m, _ = update(t, m, rowsMsg{rows: rows})

	if _, cmd := update(t, m, runeKey("o")); cmd != nil {
		t.Error("text row cannot be opened")
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if _, cmd := update(t, m, runeKey("o")); cmd == nil {
		t.Error("puzzle row should open")
	}
}

func TestModel_View(t *testing.T) {
	m, _ := newModel(t)
	rows, _ := m.panel.Rows()
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = update(t, m, rowsMsg{rows: rows})

	v := m.View()
	for _, want := range []string{"questline", "text:t1", "puzzle:p1", "0/3 done", "skip"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestRenderMarkdown_ClipsToWidth(t *testing.T) {
	out := renderMarkdown("a-very-long-unbreakable-token-that-exceeds-the-panel-width-by-far", 20)
	for _, l := range strings.Split(out, "\n") {
		if w := ansi.StringWidth(l); w > 20 {
			t.Errorf("line width %d > 20: %q", w, l)
		}
	}
	if renderMarkdown("  ", 20) != "" {
		t.Error("blank input should render empty")
	}
}

func TestItemBody(t *testing.T) {
	tests := []struct {
		item schema.Item
		want string
	}{
		{schema.Item{Text: &schema.TextPayload{Body: "hi"}}, "hi"},
		{schema.Item{Document: &schema.DocumentPayload{URL: "map.pdf"}}, "map.pdf"},
		{schema.Item{Audio: &schema.AudioPayload{URL: "a.mp3", Text: "Listen"}}, "Listen"},
		{schema.Item{Puzzle: &schema.PuzzlePayload{PuzzleID: "PZ1"}}, "Puzzle `PZ1`"},
		{schema.Item{Chat: &schema.ChatPayload{FirstMessage: "Hello", Goal: "key"}}, "Hello\n\n**Goal:** key"},
		{schema.Item{}, ""},
	}
	for _, tt := range tests {
		if got := itemBody(tt.item); got != tt.want {
			t.Errorf("itemBody = %q, want %q", got, tt.want)
		}
	}
}
