package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/questline/pkg/executor"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/steps"
)

// uiMsg carries an executor UI update.
type uiMsg struct{ ui executor.UI }

// rowsMsg carries freshly computed rows.
type rowsMsg struct {
	rows []steps.Row
	err  error
}

// resultMsg is sent when a run started from the panel returns.
type resultMsg struct {
	action string
	res    *executor.RunResult
	err    error
}

// Subscribe registers an observer on exec and returns its updates. Slow
// readers miss intermediate states, never the executor.
func Subscribe(exec *executor.Executor) <-chan executor.UI {
	ch := make(chan executor.UI, 16)
	exec.Observe(func(ui executor.UI) {
		select {
		case ch <- ui:
		default:
		}
	})
	return ch
}

// Model is the Bubble Tea model of the steps-mode panel.
type Model struct {
	ctx     context.Context
	panel   *steps.Panel
	updates <-chan executor.UI
	items   map[string]schema.Item
	order   []schema.Item

	rows    rowsPanel
	spinner spinner.Model

	running bool
	message string
	err     error
	width   int
	height  int
}

// NewModel creates the panel model. updates usually comes from Subscribe.
func NewModel(ctx context.Context, panel *steps.Panel, updates <-chan executor.UI) (Model, error) {
	tl, err := schema.Normalize(panel.Object)
	if err != nil {
		return Model{}, fmt.Errorf("tui: %w", err)
	}
	items := make(map[string]schema.Item, len(tl.Items))
	for _, it := range tl.Items {
		items[it.Key] = it
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		ctx:     ctx,
		panel:   panel,
		updates: updates,
		items:   items,
		order:   tl.Items,
		spinner: sp,
		width:   80,
		height:  24,
	}, nil
}

// Init starts the executor and the update pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.waitUI(), m.run("start", false))
}

func (m Model) waitUI() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case ui, ok := <-m.updates:
			if !ok {
				return nil
			}
			return uiMsg{ui: ui}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		rows, err := m.panel.Rows()
		return rowsMsg{rows: rows, err: err}
	}
}

func (m Model) run(action string, force bool) tea.Cmd {
	return func() tea.Msg {
		res := m.panel.Exec.Run(m.ctx, m.panel.Object, executor.Options{Force: force})
		return resultMsg{action: action, res: res}
	}
}

func (m Model) skip(k string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.panel.OnSkip(m.ctx, k)
		return resultMsg{action: "skip " + k, res: res, err: err}
	}
}

func (m Model) open(k string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.panel.OnOpen(m.ctx, k)
		return resultMsg{action: "open " + k, res: res, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case uiMsg:
		if msg.ui.ObjectID == m.panel.Object.ID {
			m.running = msg.ui.Running
			if msg.ui.Message != "" {
				m.message = msg.ui.Message
			}
			m.rows.blocked = m.blockedKey(msg.ui.Progress.BlockedByPuzzleID)
		}
		return m, tea.Batch(m.refresh(), m.waitUI())

	case rowsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rows.SetRows(msg.rows)

	case resultMsg:
		m.err = msg.err
		if msg.res != nil {
			m.message = describe(msg.action, msg.res)
		}
		return m, m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.panel.Exec.Cancel()
		return m, tea.Quit
	case key.Matches(msg, keys.Up):
		m.rows.CursorUp()
	case key.Matches(msg, keys.Down):
		m.rows.CursorDown()
	case key.Matches(msg, keys.Skip):
		if r, ok := m.rows.Selected(); ok && r.Enabled && !r.Done {
			m.message = "skipping " + r.Label
			return m, m.skip(r.Key)
		}
	case key.Matches(msg, keys.Open):
		if r, ok := m.rows.Selected(); ok && r.CanOpen {
			m.message = "opening " + r.Label
			return m, m.open(r.Key)
		}
	case key.Matches(msg, keys.Restart):
		m.message = "restarting"
		return m, m.run("restart", true)
	}
	return m, nil
}

func (m Model) blockedKey(puzzleID string) string {
	if puzzleID == "" {
		return ""
	}
	for _, it := range m.order {
		if it.Type == schema.ItemPuzzle && it.PuzzleID() == puzzleID {
			return it.Key
		}
	}
	return ""
}

func describe(action string, res *executor.RunResult) string {
	s := fmt.Sprintf("%s: %s", action, res.Status)
	if res.Progress.BlockedByPuzzleID != "" {
		s += " on puzzle " + res.Progress.BlockedByPuzzleID
	}
	if res.Message != "" {
		s += " (" + res.Message + ")"
	}
	return s
}

func (m *Model) layout() {
	m.rows.width = max(m.width/2-2, 20)
	m.rows.height = max(m.height-8, 3)
	m.rows.ensureVisible()
}

// View implements tea.Model.
func (m Model) View() string {
	title := m.panel.Object.Title
	if title == "" {
		title = m.panel.Object.ID
	}
	header := headerStyle.Render("questline · " + title)
	if m.running {
		header += " " + runningBadgeStyle.Render(m.spinner.View()+" playing")
	}
	enabled, done := m.rows.Stats()
	header += keyDescStyle.Render(fmt.Sprintf("  %d/%d done", done, enabled))

	if m.rows.width == 0 {
		m.layout()
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.rows.View(), m.detailView())

	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render("  " + m.err.Error())
	case m.message != "":
		status = messageStyle.Render("  " + m.message)
	}

	r, _ := m.rows.Selected()
	return strings.Join([]string{header, body, status, keyBarStyle.Render(keyBarText(r.CanOpen))}, "\n")
}

func (m Model) detailView() string {
	width := max(m.width-m.rows.width-6, 20)
	r, ok := m.rows.Selected()
	if !ok {
		return ""
	}
	it := m.items[r.Key]

	state := "pending"
	switch {
	case !r.Enabled:
		state = "disabled"
	case r.Done:
		state = "done"
	case r.Key == m.rows.blocked:
		state = "waiting for puzzle " + it.PuzzleID()
	case r.Current:
		state = "current"
	}
	lines := []string{
		detailLabelStyle.Render("Step: ") + detailValueStyle.Render(r.Key),
		detailLabelStyle.Render("Type: ") + detailValueStyle.Render(string(r.Type)),
		detailLabelStyle.Render("State: ") + detailValueStyle.Render(state),
	}
	if !it.Blocking {
		lines = append(lines, keyDescStyle.Render("non-blocking"))
	}
	if body := renderMarkdown(itemBody(it), width); body != "" {
		lines = append(lines, "", body)
	}
	return panelBorder.Width(width).Height(m.rows.height).Render(strings.Join(lines, "\n"))
}

// itemBody is the markdown shown for an item in the detail pane.
func itemBody(it schema.Item) string {
	switch {
	case it.Text != nil:
		return it.Text.Body
	case it.Document != nil:
		if it.Document.Body != "" {
			return it.Document.Body
		}
		return it.Document.URL
	case it.Chat != nil:
		s := it.Chat.FirstMessage
		if it.Chat.Goal != "" {
			s += "\n\n**Goal:** " + it.Chat.Goal
		}
		return s
	case it.Audio != nil:
		if it.Audio.Text != "" {
			return it.Audio.Text
		}
		return it.Audio.URL
	case it.Video != nil:
		return it.Video.URL
	case it.Action != nil:
		return it.Action.Prompt
	case it.Puzzle != nil:
		return "Puzzle `" + it.Puzzle.PuzzleID + "`"
	case it.AR != nil:
		return it.AR.Task
	}
	return ""
}
