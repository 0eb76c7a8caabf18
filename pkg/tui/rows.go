package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/questline/pkg/steps"
)

// rowsPanel renders the scrollable step list.
type rowsPanel struct {
	rows    []steps.Row
	blocked string // key of the row suspended on a puzzle
	cursor  int
	width   int
	height  int
	offset  int
}

// SetRows replaces the rows, keeping the cursor in range. A panel that
// had no rows starts at the current one.
func (p *rowsPanel) SetRows(rows []steps.Row) {
	first := len(p.rows) == 0
	p.rows = rows
	if first {
		for i, r := range rows {
			if r.Current {
				p.cursor = i
			}
		}
	}
	if p.cursor >= len(rows) {
		p.cursor = len(rows) - 1
	}
	if p.cursor < 0 {
		p.cursor = 0
	}
	p.ensureVisible()
}

// CursorUp moves the cursor up.
func (p *rowsPanel) CursorUp() {
	if p.cursor > 0 {
		p.cursor--
		p.ensureVisible()
	}
}

// CursorDown moves the cursor down.
func (p *rowsPanel) CursorDown() {
	if p.cursor < len(p.rows)-1 {
		p.cursor++
		p.ensureVisible()
	}
}

// Selected returns the row under the cursor.
func (p *rowsPanel) Selected() (steps.Row, bool) {
	if p.cursor >= 0 && p.cursor < len(p.rows) {
		return p.rows[p.cursor], true
	}
	return steps.Row{}, false
}

func (p *rowsPanel) visible() int {
	return max(p.height-2, 1)
}

func (p *rowsPanel) ensureVisible() {
	if p.cursor < p.offset {
		p.offset = p.cursor
	}
	if p.cursor >= p.offset+p.visible() {
		p.offset = p.cursor - p.visible() + 1
	}
}

func (p *rowsPanel) glyph(r steps.Row) (string, lipgloss.Style) {
	switch {
	case !r.Enabled:
		return GlyphDisabled, rowDisabled
	case r.Done:
		return GlyphDone, rowDone
	case r.Key == p.blocked:
		return GlyphBlocked, rowBlocked
	case r.Current:
		return GlyphCurrent, rowCurrent
	default:
		return GlyphPending, rowNormal
	}
}

// View renders the list.
func (p *rowsPanel) View() string {
	if len(p.rows) == 0 {
		return panelBorder.Width(p.width).Height(p.height).Render("  No steps")
	}

	end := min(p.offset+p.visible(), len(p.rows))
	var lines []string
	for i := p.offset; i < end; i++ {
		r := p.rows[i]
		glyph, style := p.glyph(r)

		maxLabel := max(p.width-12-len(r.Type), 4)
		label := runewidth.Truncate(r.Label, maxLabel, "…")
		line := fmt.Sprintf(" %s %d. %s [%s]", glyph, i+1, label, r.Type)

		if i == p.cursor {
			line = style.Reverse(true).Render(line)
		} else {
			line = style.Render(line)
		}
		lines = append(lines, line)
	}
	for len(lines) < p.visible() {
		lines = append(lines, "")
	}

	return panelBorder.Width(p.width).Height(p.height).Render(
		panelTitle.Render("Steps") + "\n" + strings.Join(lines, "\n"),
	)
}

// Stats counts enabled and done rows.
func (p *rowsPanel) Stats() (enabled, done int) {
	for _, r := range p.rows {
		if !r.Enabled {
			continue
		}
		enabled++
		if r.Done {
			done++
		}
	}
	return
}
