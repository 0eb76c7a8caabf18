package questtest

import (
	"time"

	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/schema"
)

// FastConfig shrinks every engine timing so tests run in milliseconds.
func FastConfig() config.Config {
	cfg := config.Default()
	cfg.Completion.Backoff = time.Millisecond
	cfg.Completion.ConfirmWindow = 20 * time.Millisecond
	cfg.Completion.PollInterval = time.Millisecond
	cfg.Action.ConfirmWindow = 20 * time.Millisecond
	cfg.Action.PollInterval = time.Millisecond
	cfg.Audio.EffectTimeout = 50 * time.Millisecond
	cfg.Audio.NarrationTimeout = 50 * time.Millisecond
	cfg.Reconcile.Window = 20 * time.Millisecond
	cfg.Reconcile.PollInterval = time.Millisecond
	return cfg
}

// Quest builds a quest with a puzzle catalog and objects.
func Quest(puzzles []string, objects ...schema.Object) *schema.Quest {
	q := &schema.Quest{APIVersion: schema.APIVersionQuest, Name: "test", Objects: objects}
	for _, id := range puzzles {
		q.Puzzles = append(q.Puzzles, schema.PuzzleInfo{ID: id, Points: 1})
	}
	return q
}

// Object builds an object at a valid location with version 1.
func Object(id string, items ...schema.ItemSpec) schema.Object {
	return schema.Object{
		ID:       id,
		Location: &schema.Point{Lat: 41.38, Lng: 2.17},
		Timeline: schema.TimelineSpec{Version: 1, Items: items},
	}
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Text is a text item.
func Text(key string, blocking bool) schema.ItemSpec {
	return schema.ItemSpec{Key: key, Type: schema.ItemText, Blocking: Bool(blocking)}
}

// Puzzle is a puzzle item referencing id.
func Puzzle(key, id string) schema.ItemSpec {
	return schema.ItemSpec{Key: key, Type: schema.ItemPuzzle, Puzzle: &schema.PuzzlePayload{PuzzleID: id}}
}

// BackgroundAudio is an audio item with the background role.
func BackgroundAudio(key string) schema.ItemSpec {
	return schema.ItemSpec{Key: key, Type: schema.ItemAudio, Audio: &schema.AudioPayload{URL: key + ".mp3", Role: schema.AudioRoleBackground}}
}

// Narration is a non-blocking narration audio item.
func Narration(key string) schema.ItemSpec {
	return schema.ItemSpec{Key: key, Type: schema.ItemAudio, Audio: &schema.AudioPayload{URL: key + ".mp3"}}
}

// Disabled returns spec with enabled=false.
func Disabled(spec schema.ItemSpec) schema.ItemSpec {
	spec.Enabled = Bool(false)
	return spec
}
