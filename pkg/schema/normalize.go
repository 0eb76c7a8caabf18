package schema

import (
	"fmt"
	"time"
)

// EndNodeKey is the item key of the synthetic end-of-timeline node.
// Authored items may not use it.
const EndNodeKey = "__end__"

// Timeline is the normalized, immutable step sequence of one object.
// Version changes only when the authored content changes.
type Timeline struct {
	ObjectID string
	Version  int
	Items    []Item
}

// Item is a normalized timeline item: defaults applied, exactly one
// payload set, matching Type.
type Item struct {
	Key      string
	Type     ItemType
	Title    string
	Enabled  bool
	Blocking bool
	Delay    time.Duration

	Text     *TextPayload
	Video    *VideoPayload
	Chat     *ChatPayload
	Audio    *AudioPayload
	Effect   *EffectPayload
	Action   *ActionPayload
	Document *DocumentPayload
	AR       *ARPayload
	Puzzle   *PuzzlePayload
}

// Label is the operator-facing name of the item.
func (it Item) Label() string {
	if it.Title != "" {
		return it.Title
	}
	return string(it.Type) + ":" + it.Key
}

// PuzzleID returns the referenced puzzle id, or "" for non-puzzle items.
func (it Item) PuzzleID() string {
	if it.Puzzle == nil {
		return ""
	}
	return it.Puzzle.PuzzleID
}

// IsAudio reports whether the item plays through the audio player.
func (it Item) IsAudio() bool {
	return it.Type == ItemAudio || it.Type == ItemStreamingTextAudio
}

// DefaultBlocking returns whether an item type blocks the executor when
// the author did not say.
func DefaultBlocking(t ItemType) bool {
	switch t {
	case ItemAudio, ItemEffect:
		return false
	default:
		return true
	}
}

// KnownType reports whether t is a timeline item type.
func KnownType(t ItemType) bool {
	for _, k := range ItemTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Normalize converts an authored object into a Timeline. Unknown types,
// duplicate or empty keys and mismatched payload blocks are rejected.
func Normalize(obj *Object) (*Timeline, error) {
	if obj == nil {
		return nil, fmt.Errorf("normalize: nil object")
	}
	tl := &Timeline{
		ObjectID: obj.ID,
		Version:  obj.Timeline.Version,
		Items:    make([]Item, 0, len(obj.Timeline.Items)),
	}
	seen := make(map[string]int, len(obj.Timeline.Items))
	for i, spec := range obj.Timeline.Items {
		if spec.Key == "" {
			return nil, fmt.Errorf("items[%d]: key is required", i)
		}
		if spec.Key == EndNodeKey {
			return nil, fmt.Errorf("items[%d]: key %q is reserved", i, spec.Key)
		}
		if prev, dup := seen[spec.Key]; dup {
			return nil, fmt.Errorf("items[%d]: duplicate key %q (first at items[%d])", i, spec.Key, prev)
		}
		seen[spec.Key] = i

		it, err := normalizeItem(spec)
		if err != nil {
			return nil, fmt.Errorf("items[%d] (%s): %w", i, spec.Key, err)
		}
		tl.Items = append(tl.Items, it)
	}
	return tl, nil
}

func normalizeItem(spec ItemSpec) (Item, error) {
	if !KnownType(spec.Type) {
		return Item{}, fmt.Errorf("unknown item type %q", spec.Type)
	}
	if spec.DelayMs < 0 {
		return Item{}, fmt.Errorf("delay_ms must be >= 0")
	}

	it := Item{
		Key:      spec.Key,
		Type:     spec.Type,
		Title:    spec.Title,
		Enabled:  true,
		Blocking: DefaultBlocking(spec.Type),
		Delay:    time.Duration(spec.DelayMs) * time.Millisecond,
	}
	if spec.Enabled != nil {
		it.Enabled = *spec.Enabled
	}
	if spec.Blocking != nil {
		it.Blocking = *spec.Blocking
	}

	set := payloadBlocks(spec)
	if len(set) > 1 {
		return Item{}, fmt.Errorf("multiple payload blocks %v", set)
	}
	if len(set) == 1 && set[0] != payloadName(spec.Type) {
		return Item{}, fmt.Errorf("payload block %q does not match type %q", set[0], spec.Type)
	}

	switch spec.Type {
	case ItemText:
		it.Text = orEmpty(spec.Text)
	case ItemVideo:
		it.Video = orEmpty(spec.Video)
	case ItemChat:
		it.Chat = orEmpty(spec.Chat)
	case ItemAudio, ItemStreamingTextAudio:
		it.Audio = orEmpty(spec.Audio)
		if it.Audio.Role == "" {
			it.Audio.Role = AudioRoleNarration
		}
		if it.Audio.Kind == "" {
			it.Audio.Kind = AudioKindNarration
		}
		if it.Audio.Role != AudioRoleNarration && it.Audio.Role != AudioRoleBackground {
			return Item{}, fmt.Errorf("unknown audio role %q", it.Audio.Role)
		}
		if it.Audio.Kind != AudioKindNarration && it.Audio.Kind != AudioKindEffect {
			return Item{}, fmt.Errorf("unknown audio kind %q", it.Audio.Kind)
		}
	case ItemEffect:
		it.Effect = orEmpty(spec.Effect)
		if it.Effect.DurationMs < 0 {
			return Item{}, fmt.Errorf("effect duration_ms must be >= 0")
		}
	case ItemAction:
		it.Action = orEmpty(spec.Action)
	case ItemDocument:
		it.Document = orEmpty(spec.Document)
	case ItemAR:
		it.AR = orEmpty(spec.AR)
	case ItemPuzzle:
		it.Puzzle = orEmpty(spec.Puzzle)
	}
	return it, nil
}

// orEmpty copies p, or returns a zero payload when the block was omitted.
func orEmpty[T any](p *T) *T {
	var v T
	if p != nil {
		v = *p
	}
	return &v
}

func payloadName(t ItemType) string {
	if t == ItemStreamingTextAudio {
		return "audio"
	}
	return string(t)
}

func payloadBlocks(spec ItemSpec) []string {
	var set []string
	add := func(ok bool, name string) {
		if ok {
			set = append(set, name)
		}
	}
	add(spec.Text != nil, "text")
	add(spec.Video != nil, "video")
	add(spec.Chat != nil, "chat")
	add(spec.Audio != nil, "audio")
	add(spec.Effect != nil, "effect")
	add(spec.Action != nil, "action")
	add(spec.Document != nil, "document")
	add(spec.AR != nil, "ar")
	add(spec.Puzzle != nil, "puzzle")
	return set
}
