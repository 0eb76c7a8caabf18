// Package schema defines the quest/v1 document types and the timeline
// normalizer that turns authored objects into typed, versioned timelines.
package schema

// API version constant for quest/v1.
const APIVersionQuest = "quest/v1"

// ---------------------------------------------------------------------------
// Quest
// ---------------------------------------------------------------------------

// Quest is the top-level quest/v1 document.
type Quest struct {
	APIVersion string       `yaml:"apiVersion" json:"apiVersion"`
	Name       string       `yaml:"name"       json:"name"`
	Puzzles    []PuzzleInfo `yaml:"puzzles,omitempty" json:"puzzles,omitempty"`
	Objects    []Object     `yaml:"objects"    json:"objects"`
}

// PuzzleInfo is one entry of the puzzle catalog.
type PuzzleInfo struct {
	ID     string `yaml:"id"               json:"id"`
	Title  string `yaml:"title,omitempty"  json:"title,omitempty"`
	Points int    `yaml:"points,omitempty" json:"points,omitempty"`
}

// Object looks up an object by id.
func (q *Quest) Object(id string) *Object {
	for i := range q.Objects {
		if q.Objects[i].ID == id {
			return &q.Objects[i]
		}
	}
	return nil
}

// PuzzleIDs returns the catalog as a set.
func (q *Quest) PuzzleIDs() map[string]bool {
	ids := make(map[string]bool, len(q.Puzzles))
	for _, p := range q.Puzzles {
		ids[p.ID] = true
	}
	return ids
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

// Object is a map-attached point of interest owning a timeline.
type Object struct {
	ID       string       `yaml:"id"                 json:"id"`
	Title    string       `yaml:"title,omitempty"    json:"title,omitempty"`
	Location *Point       `yaml:"location,omitempty" json:"location,omitempty"`
	Timeline TimelineSpec `yaml:"timeline"           json:"timeline"`
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lng float64 `yaml:"lng" json:"lng"`
}

// TimelineSpec is the authored form of a timeline.
type TimelineSpec struct {
	Version int        `yaml:"version" json:"version"`
	Items   []ItemSpec `yaml:"items"   json:"items"`
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// ItemType enumerates the timeline step types.
type ItemType string

const (
	ItemText               ItemType = "text"
	ItemVideo              ItemType = "video"
	ItemChat               ItemType = "chat"
	ItemAudio              ItemType = "audio"
	ItemStreamingTextAudio ItemType = "streaming_text_audio"
	ItemEffect             ItemType = "effect"
	ItemAction             ItemType = "action"
	ItemDocument           ItemType = "document"
	ItemAR                 ItemType = "ar"
	ItemPuzzle             ItemType = "puzzle"
)

// ItemTypes lists every known item type in authoring order.
var ItemTypes = []ItemType{
	ItemText, ItemVideo, ItemChat, ItemAudio, ItemStreamingTextAudio,
	ItemEffect, ItemAction, ItemDocument, ItemAR, ItemPuzzle,
}

// ItemSpec is the authored form of a timeline item. Exactly one payload
// block may be set and it must match Type.
type ItemSpec struct {
	Key      string   `yaml:"key"                json:"key"`
	Type     ItemType `yaml:"type"               json:"type" jsonschema:"enum=text,enum=video,enum=chat,enum=audio,enum=streaming_text_audio,enum=effect,enum=action,enum=document,enum=ar,enum=puzzle"`
	Title    string   `yaml:"title,omitempty"    json:"title,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty"  json:"enabled,omitempty"`
	Blocking *bool    `yaml:"blocking,omitempty" json:"blocking,omitempty"`
	DelayMs  int      `yaml:"delay_ms,omitempty" json:"delay_ms,omitempty" jsonschema:"minimum=0"`

	Text     *TextPayload     `yaml:"text,omitempty"     json:"text,omitempty"`
	Video    *VideoPayload    `yaml:"video,omitempty"    json:"video,omitempty"`
	Chat     *ChatPayload     `yaml:"chat,omitempty"     json:"chat,omitempty"`
	Audio    *AudioPayload    `yaml:"audio,omitempty"    json:"audio,omitempty"`
	Effect   *EffectPayload   `yaml:"effect,omitempty"   json:"effect,omitempty"`
	Action   *ActionPayload   `yaml:"action,omitempty"   json:"action,omitempty"`
	Document *DocumentPayload `yaml:"document,omitempty" json:"document,omitempty"`
	AR       *ARPayload       `yaml:"ar,omitempty"       json:"ar,omitempty"`
	Puzzle   *PuzzlePayload   `yaml:"puzzle,omitempty"   json:"puzzle,omitempty"`
}

// TextPayload is shown as a dismissable card. AutoCloseMs closes it on a timer.
type TextPayload struct {
	Body        string `yaml:"body,omitempty"          json:"body,omitempty"`
	AutoCloseMs int    `yaml:"auto_close_ms,omitempty" json:"auto_close_ms,omitempty" jsonschema:"minimum=0"`
}

// VideoPayload is a video step.
type VideoPayload struct {
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// ChatPayload seeds a conversational overlay.
type ChatPayload struct {
	FirstMessage string   `yaml:"first_message,omitempty" json:"first_message,omitempty"`
	Images       []string `yaml:"images,omitempty"        json:"images,omitempty"`
	Goal         string   `yaml:"goal,omitempty"          json:"goal,omitempty"`
}

// Audio roles and kinds.
const (
	AudioRoleNarration  = "narration"
	AudioRoleBackground = "background"

	AudioKindNarration = "narration"
	AudioKindEffect    = "effect"
)

// AudioPayload is shared by audio and streaming_text_audio items.
type AudioPayload struct {
	URL  string `yaml:"url,omitempty"  json:"url,omitempty"`
	Role string `yaml:"role,omitempty" json:"role,omitempty" jsonschema:"enum=narration,enum=background"`
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=narration,enum=effect"`
	Text string `yaml:"text,omitempty" json:"text,omitempty"`
}

// EffectPayload is a visual marker effect at the object's location.
type EffectPayload struct {
	Kind       string `yaml:"kind,omitempty"        json:"kind,omitempty"`
	DurationMs int    `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty" jsonschema:"minimum=0"`
}

// ActionPayload is a scripted capture verified by the runtime.
type ActionPayload struct {
	Kind   string         `yaml:"kind,omitempty"   json:"kind,omitempty"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Prompt string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// DocumentPayload is a readable document.
type DocumentPayload struct {
	URL  string `yaml:"url,omitempty"  json:"url,omitempty"`
	Body string `yaml:"body,omitempty" json:"body,omitempty"`
}

// ARPayload configures an AR capture task.
type ARPayload struct {
	Task   string         `yaml:"task,omitempty"   json:"task,omitempty"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// PuzzlePayload references an entry of the puzzle catalog.
type PuzzlePayload struct {
	PuzzleID string `yaml:"puzzle_id,omitempty" json:"puzzle_id,omitempty"`
	Points   int    `yaml:"points,omitempty"    json:"points,omitempty"`
}
