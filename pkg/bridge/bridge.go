// Package bridge hosts overlays on a remote player device. The device
// connects over WebSocket; the engine's show, audio and effect requests
// go out as JSON envelopes and the device answers when the player is done.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/schema"
)

// ErrNoClient is returned when no player device is connected.
var ErrNoClient = errors.New("bridge: no player connected")

// Envelope types.
const (
	MsgShow      = "show"
	MsgClose     = "close"
	MsgCancel    = "cancel"
	MsgNotify    = "notify"
	MsgAudio     = "audio"
	MsgAudioStop = "audio_stop"
	MsgPulse     = "pulse"

	MsgClosed       = "closed"
	MsgEnded        = "ended"
	MsgPuzzleSolved = "puzzle_solved"
)

const writeTimeout = 15 * time.Second

// Envelope is one WebSocket message in either direction.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ShowData is the payload of a show envelope.
type ShowData struct {
	Kind     schema.ItemType `json:"kind"`
	ObjectID string          `json:"object_id"`
	ItemKey  string          `json:"item_key"`
	Title    string          `json:"title,omitempty"`
	Blocking bool            `json:"blocking"`
	MediaURL string          `json:"media_url,omitempty"`
	Payload  any             `json:"payload,omitempty"`
}

// AudioData is the payload of an audio envelope.
type AudioData struct {
	ObjectID   string `json:"object_id"`
	ItemKey    string `json:"item_key"`
	URL        string `json:"url"`
	Text       string `json:"text,omitempty"`
	Role       string `json:"role"`
	Kind       string `json:"kind"`
	Background bool   `json:"background"`
}

// PulseData is the payload of a pulse envelope.
type PulseData struct {
	ObjectID   string  `json:"object_id"`
	ItemKey    string  `json:"item_key"`
	Kind       string  `json:"kind,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DurationMs int64   `json:"duration_ms"`
}

// Reply is the payload of closed and ended envelopes.
type Reply struct {
	Evidence *overlay.Evidence `json:"evidence,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type puzzleSolved struct {
	PuzzleID string `json:"puzzle_id"`
}

// Bridge is an overlay.Host, AudioPlayer and Effects backed by one
// connected device. A newer connection replaces the previous one.
type Bridge struct {
	// OnPuzzleSolved is called when the device reports a solved puzzle.
	OnPuzzleSolved func(puzzleID string)

	seq atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan Reply
	ready   chan struct{}
}

// New creates a bridge with no device connected.
func New() *Bridge {
	return &Bridge{pending: map[string]chan Reply{}, ready: make(chan struct{})}
}

// Handler serves the device endpoint at /ws.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", b.handleWebSocket)
	return mux
}

// Serve serves Handler on ln until ctx is done.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: b.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}

// WaitClient blocks until a device is connected.
func (b *Bridge) WaitClient(ctx context.Context) error {
	b.mu.Lock()
	ready := b.ready
	b.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a device is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	b.attach(ws)
	defer b.detach(ws)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		b.receive(env)
	}
}

func (b *Bridge) attach(ws *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close(websocket.StatusGoingAway, "replaced by a newer player")
	} else {
		close(b.ready)
	}
	b.conn = ws
}

func (b *Bridge) detach(ws *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != ws {
		return
	}
	b.conn = nil
	b.ready = make(chan struct{})
	// Overlays left open on the device can no longer answer.
	for id, ch := range b.pending {
		ch <- Reply{Error: ErrNoClient.Error()}
		delete(b.pending, id)
	}
}

func (b *Bridge) receive(env Envelope) {
	switch env.Type {
	case MsgClosed, MsgEnded:
		var rep Reply
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &rep); err != nil {
				rep.Error = err.Error()
			}
		}
		b.mu.Lock()
		ch, ok := b.pending[env.ID]
		delete(b.pending, env.ID)
		b.mu.Unlock()
		if ok {
			ch <- rep
		}
	case MsgPuzzleSolved:
		var ps puzzleSolved
		if json.Unmarshal(env.Data, &ps) == nil && ps.PuzzleID != "" && b.OnPuzzleSolved != nil {
			b.OnPuzzleSolved(ps.PuzzleID)
		}
	}
}

func (b *Bridge) send(ctx context.Context, typ, id string, data any) error {
	b.mu.Lock()
	ws := b.conn
	b.mu.Unlock()
	if ws == nil {
		return ErrNoClient
	}
	env := Envelope{Type: typ, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("bridge: encode %s: %w", typ, err)
		}
		env.Data = raw
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bridge: encode %s: %w", typ, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("bridge: send %s: %w", typ, err)
	}
	return nil
}

// call sends a request and waits for its closed or ended reply. When ctx
// ends first, the device is told to cancel the request.
func (b *Bridge) call(ctx context.Context, typ string, data any) (Reply, error) {
	id := strconv.FormatUint(b.seq.Add(1), 10)
	ch := make(chan Reply, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	if err := b.send(ctx, typ, id, data); err != nil {
		b.forget(id)
		return Reply{}, err
	}
	select {
	case rep := <-ch:
		if rep.Error != "" {
			return rep, errors.New(rep.Error)
		}
		return rep, nil
	case <-ctx.Done():
		b.forget(id)
		b.send(context.WithoutCancel(ctx), MsgCancel, id, nil)
		return Reply{}, ctx.Err()
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

// Show presents an overlay on the device and waits for it to close.
func (b *Bridge) Show(ctx context.Context, kind schema.ItemType, req overlay.Request) (*overlay.Evidence, error) {
	rep, err := b.call(ctx, MsgShow, ShowData{
		Kind:     kind,
		ObjectID: req.ObjectID,
		ItemKey:  req.Item.Key,
		Title:    req.Item.Title,
		Blocking: req.Item.Blocking,
		MediaURL: req.MediaURL,
		Payload:  payloadOf(req.Item),
	})
	if err != nil {
		return nil, err
	}
	return rep.Evidence, nil
}

// Close closes every open overlay of kind on the device.
func (b *Bridge) Close(kind schema.ItemType) {
	b.send(context.Background(), MsgClose, "", map[string]any{"kind": kind})
}

// Notify shows a transient message on the device.
func (b *Bridge) Notify(message string) {
	b.send(context.Background(), MsgNotify, "", map[string]any{"message": message})
}

func audioData(req overlay.AudioRequest, background bool) AudioData {
	return AudioData{
		ObjectID:   req.ObjectID,
		ItemKey:    req.ItemKey,
		URL:        req.URL,
		Text:       req.Text,
		Role:       req.Role,
		Kind:       req.Kind,
		Background: background,
	}
}

// Play plays audio on the device and waits for it to end.
func (b *Bridge) Play(ctx context.Context, req overlay.AudioRequest) error {
	_, err := b.call(ctx, MsgAudio, audioData(req, false))
	return err
}

// PlayBackground starts a background track on the device.
func (b *Bridge) PlayBackground(ctx context.Context, req overlay.AudioRequest) error {
	return b.send(ctx, MsgAudio, "", audioData(req, true))
}

// Stop stops blocking playback on the device.
func (b *Bridge) Stop() {
	b.send(context.Background(), MsgAudioStop, "", nil)
}

// Pulse shows a marker effect on the device's map.
func (b *Bridge) Pulse(ctx context.Context, req overlay.EffectRequest) error {
	return b.send(ctx, MsgPulse, "", PulseData{
		ObjectID:   req.ObjectID,
		ItemKey:    req.ItemKey,
		Kind:       req.Kind,
		Lat:        req.At.Lat,
		Lng:        req.At.Lng,
		DurationMs: req.Duration.Milliseconds(),
	})
}

func payloadOf(it schema.Item) any {
	switch {
	case it.Text != nil:
		return it.Text
	case it.Video != nil:
		return it.Video
	case it.Chat != nil:
		return it.Chat
	case it.Document != nil:
		return it.Document
	case it.Action != nil:
		return it.Action
	case it.AR != nil:
		return it.AR
	case it.Puzzle != nil:
		return it.Puzzle
	}
	return nil
}
