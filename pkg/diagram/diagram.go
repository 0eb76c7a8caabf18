// Package diagram renders quest timelines as diagrams.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram of every object timeline in q, in quest order.
func Generate(q *schema.Quest, format Format) (string, error) {
	if q == nil {
		return "", fmt.Errorf("nil quest")
	}
	objects, err := collect(q)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(objects), nil
	case FormatASCII:
		return generateASCII(q.Name, objects), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

type diagramObject struct {
	id    string
	title string
	items []schema.Item
}

func collect(q *schema.Quest) ([]diagramObject, error) {
	out := make([]diagramObject, 0, len(q.Objects))
	for i := range q.Objects {
		obj := &q.Objects[i]
		tl, err := schema.Normalize(obj)
		if err != nil {
			return nil, err
		}
		title := obj.Title
		if title == "" {
			title = obj.ID
		}
		out = append(out, diagramObject{id: obj.ID, title: title, items: tl.Items})
	}
	return out, nil
}

// --- Mermaid flowchart ---

func generateMermaid(objects []diagramObject) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	prev := "START"
	b.WriteString("    START([Start])\n")
	for _, o := range objects {
		b.WriteString(fmt.Sprintf("    subgraph %s [%q]\n", safeID(o.id), o.title))
		var disabled []string
		for _, it := range o.items {
			id := itemID(o.id, it.Key)
			b.WriteString("        " + nodeDefinition(id, it) + "\n")
			if !it.Enabled {
				disabled = append(disabled, id)
				continue
			}
			b.WriteString(fmt.Sprintf("        %s --> %s\n", prev, id))
			prev = id
		}
		end := itemID(o.id, schema.EndNodeKey)
		b.WriteString(fmt.Sprintf("        %s((end))\n", end))
		b.WriteString(fmt.Sprintf("        %s --> %s\n", prev, end))
		b.WriteString("    end\n")
		for _, id := range disabled {
			b.WriteString(fmt.Sprintf("    style %s fill:#333,stroke:#666,color:#999,stroke-dasharray: 4 4\n", id))
		}
		prev = end
	}
	b.WriteString("    FINISH([Finish])\n")
	b.WriteString(fmt.Sprintf("    %s --> FINISH\n", prev))
	return b.String()
}

func nodeDefinition(id string, it schema.Item) string {
	label := escMermaid(itemIcon(it.Type) + " " + it.Label())
	switch it.Type {
	case schema.ItemPuzzle:
		if pid := it.PuzzleID(); pid != "" {
			label += "<br/>⧗ " + escMermaid(pid)
		}
		return fmt.Sprintf(`%s{"%s"}`, id, label)
	case schema.ItemAction, schema.ItemAR:
		return fmt.Sprintf(`%s[/"%s"/]`, id, label)
	case schema.ItemAudio, schema.ItemStreamingTextAudio, schema.ItemEffect:
		if !it.Blocking {
			return fmt.Sprintf(`%s(["%s"])`, id, label)
		}
	}
	return fmt.Sprintf(`%s["%s"]`, id, label)
}

// --- ASCII ---

func generateASCII(name string, objects []diagramObject) string {
	var b strings.Builder
	if name == "" {
		name = "Quest"
	}
	if len(objects) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	const indent = 8
	boxWidth := computeUniformBoxWidth(objects, name)
	connCol := indent + 1 + boxWidth/2 // +1 for the left border
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)
	mid := boxWidth / 2

	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")

	for _, o := range objects {
		b.WriteString(connPad + "│\n")
		b.WriteString(pad + "┏" + strings.Repeat("━", boxWidth) + "┓\n")
		b.WriteString(pad + "┃" + centerPad("◉ "+o.title, boxWidth) + "┃\n")
		b.WriteString(pad + "┗" + strings.Repeat("━", mid) + "┯" + strings.Repeat("━", boxWidth-mid-1) + "┛\n")
		if len(o.items) == 0 {
			b.WriteString(connPad + "·  (empty timeline)\n")
			continue
		}
		for _, it := range o.items {
			b.WriteString(connPad + "│\n")
			writeASCIIItem(&b, it, indent, boxWidth)
		}
	}
	b.WriteString(connPad + "│\n")
	b.WriteString(strings.Repeat(" ", connCol-1) + "(■) finish\n")
	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed across
// all items, object titles and the quest name.
func computeUniformBoxWidth(objects []diagramObject, name string) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, o := range objects {
		if tw := runewidth.StringWidth("◉ "+o.title) + 4; tw > w {
			w = tw
		}
		for _, it := range o.items {
			if iw := runewidth.StringWidth(itemContent(it)); iw > w {
				w = iw
			}
		}
	}
	return w
}

func itemContent(it schema.Item) string {
	s := fmt.Sprintf(" %s %s ", itemIcon(it.Type), it.Label())
	var marks []string
	if !it.Enabled {
		marks = append(marks, "disabled")
	}
	if it.Type == schema.ItemPuzzle && it.PuzzleID() != "" {
		marks = append(marks, "⧗ "+it.PuzzleID())
	}
	if it.Delay > 0 {
		marks = append(marks, "+"+it.Delay.String())
	}
	if len(marks) > 0 {
		s += "(" + strings.Join(marks, ", ") + ") "
	}
	return s
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIItem(b *strings.Builder, it schema.Item, indent, boxWidth int) {
	content := itemContent(it)
	contentWidth := runewidth.StringWidth(content)
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	h, v := "─", "│"
	tl, tr, bl, br, tee := "┌", "┐", "└", "┘", "┬"
	if !it.Enabled {
		h, v = "┄", "┆"
	}
	b.WriteString(pad + tl + strings.Repeat(h, boxWidth) + tr + "\n")
	b.WriteString(pad + v + content + strings.Repeat(" ", boxWidth-contentWidth) + v + "\n")
	b.WriteString(pad + bl + strings.Repeat(h, mid) + tee + strings.Repeat(h, boxWidth-mid-1) + br + "\n")
}

func itemIcon(t schema.ItemType) string {
	switch t {
	case schema.ItemText:
		return "¶"
	case schema.ItemVideo:
		return "▶"
	case schema.ItemChat:
		return "✉"
	case schema.ItemAudio, schema.ItemStreamingTextAudio:
		return "♪"
	case schema.ItemEffect:
		return "✦"
	case schema.ItemAction:
		return "⚑"
	case schema.ItemDocument:
		return "▤"
	case schema.ItemAR:
		return "◈"
	case schema.ItemPuzzle:
		return "?"
	default:
		return "○"
	}
}

// --- string helpers ---

func itemID(objectID, key string) string {
	return safeID(objectID + "__" + key)
}

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_", ":", "_")
	return r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}
