package overlay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/ormasoftchile/questline/pkg/schema"
)

func item(key string, kind schema.ItemType) Request {
	return Request{ObjectID: "obj", Item: schema.Item{Key: key, Type: kind}}
}

func TestEvidence_Empty(t *testing.T) {
	var nilEv *Evidence
	if !nilEv.Empty() {
		t.Error("nil evidence should be empty")
	}
	if !(&Evidence{Cancelled: true}).Empty() {
		t.Error("cancel flag alone carries nothing to submit")
	}
	if (&Evidence{Text: "x"}).Empty() {
		t.Error("text evidence is not empty")
	}
	m := (&Evidence{Text: "x", Data: map[string]any{"score": 3}}).Map()
	if m["text"] != "x" || m["score"] != 3 {
		t.Errorf("Map = %v", m)
	}
}

func TestAttach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	os.WriteFile(path, []byte("hello"), 0o644)
	a, err := Attach(path)
	if err != nil {
		t.Fatal(err)
	}
	if a.Size != 5 || a.SHA256 != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("attachment = %+v", a)
	}
	if _, err := Attach(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

type fakeOverlay struct {
	shown  int
	closed int
}

func (f *fakeOverlay) Show(context.Context, Request) (*Evidence, error) {
	f.shown++
	return &Evidence{Text: "ok"}, nil
}

func (f *fakeOverlay) Close() { f.closed++ }

func TestRegistry(t *testing.T) {
	var notes []string
	r := NewRegistry(func(m string) { notes = append(notes, m) })
	f := &fakeOverlay{}
	r.Register(schema.ItemText, f)

	ev, err := r.Show(context.Background(), schema.ItemText, item("t1", schema.ItemText))
	if err != nil || ev.Text != "ok" {
		t.Fatalf("Show = %v, %v", ev, err)
	}
	r.Close(schema.ItemText)
	r.Close(schema.ItemVideo) // unregistered: no-op
	if f.shown != 1 || f.closed != 1 {
		t.Errorf("fake = %+v", f)
	}

	if _, err := r.Show(context.Background(), schema.ItemVideo, item("v", schema.ItemVideo)); !errors.Is(err, ErrNoOverlay) {
		t.Errorf("err = %v, want ErrNoOverlay", err)
	}
	r.Notify("hi")
	if len(notes) != 1 || notes[0] != "hi" {
		t.Errorf("notes = %v", notes)
	}
}

func TestURLResolver(t *testing.T) {
	r, err := NewURLResolver("https://cdn.example.com/quest/")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	tests := []struct {
		raw  string
		want string
	}{
		{"intro.mp4", "https://cdn.example.com/quest/intro.mp4"},
		{"/root.mp3", "https://cdn.example.com/root.mp3"},
		{"https://other.example.com/a.mp3", "https://other.example.com/a.mp3"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(ctx, tt.raw)
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", tt.raw, got, err, tt.want)
		}
	}
	if _, err := r.Resolve(ctx, "  "); !errors.Is(err, ErrNoMedia) {
		t.Errorf("err = %v, want ErrNoMedia", err)
	}

	plain, _ := NewURLResolver("")
	if got, _ := plain.Resolve(ctx, "local.mp3"); got != "local.mp3" {
		t.Errorf("no base: %q", got)
	}
}

func TestScripted_ImmediateAndEvidence(t *testing.T) {
	s := NewScripted(&Scenario{Steps: map[string]StepScript{
		"act": {Text: "a photo"},
		"ar":  {Cancelled: true},
		"bad": {Error: "boom"},
	}})
	ctx := context.Background()

	if ev, err := s.Show(ctx, schema.ItemText, item("t1", schema.ItemText)); ev != nil || err != nil {
		t.Errorf("unscripted = %v, %v; want immediate close", ev, err)
	}
	ev, _ := s.Show(ctx, schema.ItemAction, item("act", schema.ItemAction))
	if ev == nil || ev.Text != "a photo" {
		t.Errorf("action evidence = %+v", ev)
	}
	ev, _ = s.Show(ctx, schema.ItemAR, item("ar", schema.ItemAR))
	if ev == nil || !ev.Cancelled {
		t.Errorf("ar evidence = %+v", ev)
	}
	if _, err := s.Show(ctx, schema.ItemVideo, item("bad", schema.ItemVideo)); err == nil {
		t.Error("expected scripted error")
	}

	want := []string{"show text t1", "show action act", "show ar ar", "show video bad"}
	if !slices.Equal(s.Log(), want) {
		t.Errorf("log = %v, want %v", s.Log(), want)
	}
}

func TestScripted_Strict(t *testing.T) {
	s := NewScripted(nil)
	s.Strict = true
	if _, err := s.Show(context.Background(), schema.ItemText, item("t1", schema.ItemText)); !errors.Is(err, ErrNoScenario) {
		t.Errorf("err = %v, want ErrNoScenario", err)
	}
}

func TestScripted_HoldReleasedByClose(t *testing.T) {
	s := NewScripted(&Scenario{Steps: map[string]StepScript{"doc": {Hold: true, Text: "read"}}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		ev  *Evidence
		err error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := s.Show(ctx, schema.ItemDocument, item("doc", schema.ItemDocument))
		done <- result{ev, err}
	}()
	if err := s.WaitShowing(ctx, "doc"); err != nil {
		t.Fatal(err)
	}
	s.Close(schema.ItemDocument)
	r := <-done
	if r.ev != nil || r.err != nil {
		t.Errorf("Close should dismiss without evidence, got %+v %v", r.ev, r.err)
	}
}

func TestScripted_HoldRelease(t *testing.T) {
	s := NewScripted(&Scenario{Steps: map[string]StepScript{"act": {Hold: true, Text: "done"}}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *Evidence, 1)
	go func() {
		ev, _ := s.Show(ctx, schema.ItemAction, item("act", schema.ItemAction))
		done <- ev
	}()
	s.WaitShowing(ctx, "act")
	if !s.Release("act") {
		t.Fatal("Release should find the held overlay")
	}
	if ev := <-done; ev == nil || ev.Text != "done" {
		t.Errorf("evidence = %+v", ev)
	}
	if s.Release("act") {
		t.Error("second Release should report nothing held")
	}
}

func TestScripted_HoldCancelledByContext(t *testing.T) {
	s := NewScripted(&Scenario{Steps: map[string]StepScript{"v": {Hold: true}}})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s.WaitShowing(context.Background(), "v")
		cancel()
	}()
	if _, err := s.Show(ctx, schema.ItemVideo, item("v", schema.ItemVideo)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestScripted_Audio(t *testing.T) {
	s := NewScripted(&Scenario{Audio: map[string]AudioScript{
		"n1": {DurationMs: 1},
		"n2": {Hold: true},
		"n3": {Error: "decode"},
	}})
	ctx := context.Background()

	if err := s.Play(ctx, AudioRequest{ItemKey: "n1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Play(ctx, AudioRequest{ItemKey: "n3"}); err == nil {
		t.Error("expected playback error")
	}

	done := make(chan error, 1)
	go func() { done <- s.Play(ctx, AudioRequest{ItemKey: "n2"}) }()
	deadline := time.After(2 * time.Second)
	for !slices.Contains(s.Log(), "play n2") {
		select {
		case <-deadline:
			t.Fatal("n2 never started")
		case <-time.After(time.Millisecond):
		}
	}
	s.Stop()
	if err := <-done; err != nil {
		t.Errorf("stopped Play err = %v", err)
	}

	s.PlayBackground(ctx, AudioRequest{ItemKey: "bg"})
	s.Pulse(ctx, EffectRequest{ItemKey: "e1", At: schema.Point{Lat: 1.5, Lng: 2.25}})
	log := s.Log()
	if !slices.Contains(log, "background bg") || !slices.Contains(log, "pulse e1 1.5000,2.2500") {
		t.Errorf("log = %v", log)
	}
}

func TestScripted_PuzzleNavigator(t *testing.T) {
	s := NewScripted(&Scenario{Solve: map[string]SolveScript{"PZ1": {DelayMs: 1}}})
	solved := make(chan string, 1)
	nav := s.PuzzleNavigator(context.Background(), func(id string) error {
		solved <- id
		return nil
	})
	nav("obj", "PZ2") // unscripted: stays open
	nav("obj", "PZ1")
	select {
	case id := <-solved:
		if id != "PZ1" {
			t.Errorf("solved %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PZ1 was not solved")
	}
}

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(`
steps:
  act: {text: "photo", hold: true}
audio:
  n1: {duration_ms: 5}
solve:
  PZ1: {delay_ms: 10}
`))
	if err != nil {
		t.Fatal(err)
	}
	if !sc.Steps["act"].Hold || sc.Audio["n1"].DurationMs != 5 || sc.Solve["PZ1"].DelayMs != 10 {
		t.Errorf("scenario = %+v", sc)
	}
}

func TestNewConsole_RequiresTerminal(t *testing.T) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		t.Skip("stdin is a terminal")
	}
	if _, err := NewConsole(); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("err = %v, want ErrNotTerminal", err)
	}
}
