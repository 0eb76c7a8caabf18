// Package overlay defines the collaborators the step handlers drive:
// one overlay per step type, an audio player, a marker effect layer and a
// media URL resolver. The engine treats them as black boxes.
package overlay

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// ErrNoOverlay is returned when no overlay is registered for a step type.
var ErrNoOverlay = errors.New("overlay: no overlay registered")

// Request describes what an overlay should present.
type Request struct {
	ObjectID string
	Item     schema.Item
	// MediaURL is the resolved playable URL for media items.
	MediaURL string
}

// Evidence is what the player hands back from a capture overlay.
type Evidence struct {
	Cancelled   bool           `json:"cancelled,omitempty"`
	Text        string         `json:"text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Attachment is a captured file, identified by content hash.
type Attachment struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Empty reports whether the evidence carries nothing to submit.
// A nil Evidence is empty.
func (e *Evidence) Empty() bool {
	return e == nil || (e.Text == "" && len(e.Attachments) == 0 && len(e.Data) == 0)
}

// Map flattens the evidence for submission to the runtime.
func (e *Evidence) Map() map[string]any {
	if e.Empty() {
		return nil
	}
	m := map[string]any{}
	if e.Text != "" {
		m["text"] = e.Text
	}
	if len(e.Attachments) > 0 {
		atts := make([]map[string]any, 0, len(e.Attachments))
		for _, a := range e.Attachments {
			atts = append(atts, map[string]any{"path": a.Path, "sha256": a.SHA256, "size": a.Size})
		}
		m["attachments"] = atts
	}
	for k, v := range e.Data {
		m[k] = v
	}
	return m
}

// Overlay presents one step type. Show blocks until the overlay is
// closed by the player, by Close, or by ctx. A Close or a plain player
// dismissal returns (nil, nil).
type Overlay interface {
	Show(ctx context.Context, req Request) (*Evidence, error)
	Close()
}

// Host routes overlays by step type.
type Host interface {
	Show(ctx context.Context, kind schema.ItemType, req Request) (*Evidence, error)
	Close(kind schema.ItemType)
	// Notify shows a transient message, such as why an action failed.
	Notify(message string)
}

// AudioRequest describes one audio item.
type AudioRequest struct {
	ObjectID string
	ItemKey  string
	URL      string
	Text     string
	Role     string
	Kind     string
}

// AudioPlayer plays narration and background tracks.
type AudioPlayer interface {
	// Play blocks until playback ends or ctx is done.
	Play(ctx context.Context, req AudioRequest) error
	// PlayBackground hands the track to the background player and returns.
	PlayBackground(ctx context.Context, req AudioRequest) error
	// Stop stops any blocking playback.
	Stop()
}

// EffectRequest describes a marker effect at a location.
type EffectRequest struct {
	ObjectID string
	ItemKey  string
	Kind     string
	At       schema.Point
	Duration time.Duration
}

// Effects triggers visual marker effects.
type Effects interface {
	Pulse(ctx context.Context, req EffectRequest) error
}

// MediaResolver turns an authored media reference into a playable URL.
type MediaResolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// HashFile returns the SHA256 hex digest and size of a file.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), size, nil
}

// Attach hashes a file into an Attachment.
func Attach(path string) (Attachment, error) {
	sum, size, err := HashFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("attach %s: %w", path, err)
	}
	return Attachment{Path: path, SHA256: sum, Size: size}, nil
}
