package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/schema"
)

// stepClock advances by step on every reading.
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Unix(0, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

func newRecorder() *Recorder {
	rec := New()
	rec.now = stepClock(5 * time.Millisecond)
	return rec
}

func req(key string) overlay.Request {
	return overlay.Request{ObjectID: "gate", Item: schema.Item{Key: key, Type: schema.ItemAction, Enabled: true}}
}

func TestRecorder_CapturesSteps(t *testing.T) {
	t.Setenv("TEST_SECRET_KEY", "supersecret123")
	inner := overlay.NewScripted(&overlay.Scenario{Steps: map[string]overlay.StepScript{
		"photo":  {Text: "gate.jpg", Data: map[string]any{"token": "supersecret123", "n": 2}},
		"quiz":   {Cancelled: true},
		"broken": {Error: "camera unavailable"},
	}})
	rec := newRecorder()
	rec.SetSecrets([]string{"TEST_SECRET_KEY"})
	h := rec.Host(inner)
	ctx := context.Background()

	ev, err := h.Show(ctx, schema.ItemAction, req("photo"))
	if err != nil || ev == nil || ev.Text != "gate.jpg" {
		t.Fatalf("photo: ev=%+v err=%v", ev, err)
	}
	if ev.Data["token"] != "supersecret123" {
		t.Error("evidence handed to the engine must not be redacted")
	}
	if _, err := h.Show(ctx, schema.ItemAction, req("quiz")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Show(ctx, schema.ItemAction, req("broken")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := h.Show(ctx, schema.ItemText, req("intro")); err != nil {
		t.Fatal(err)
	}

	sc := rec.Scenario()
	photo := sc.Steps["photo"]
	if photo.Text != "gate.jpg" || photo.DelayMs != 5 {
		t.Errorf("photo = %+v", photo)
	}
	if photo.Data["token"] != "<REDACTED>" || photo.Data["n"] != 2 {
		t.Errorf("photo data = %v", photo.Data)
	}
	if !sc.Steps["quiz"].Cancelled {
		t.Errorf("quiz = %+v", sc.Steps["quiz"])
	}
	if sc.Steps["broken"].Error != "camera unavailable" {
		t.Errorf("broken = %+v", sc.Steps["broken"])
	}
	if intro, ok := sc.Steps["intro"]; !ok || intro.Text != "" || intro.Cancelled || intro.DelayMs != 5 {
		t.Errorf("intro = %+v, %v", intro, ok)
	}
}

func TestRecorder_SkipsEngineClosedOverlays(t *testing.T) {
	inner := overlay.NewScripted(&overlay.Scenario{Steps: map[string]overlay.StepScript{
		"story": {Hold: true},
	}})
	rec := newRecorder()
	h := rec.Host(inner)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = inner.WaitShowing(context.Background(), "story")
		cancel()
	}()
	if _, err := h.Show(ctx, schema.ItemText, req("story")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := rec.Scenario().Steps["story"]; ok {
		t.Error("overlay closed by the engine was recorded")
	}
}

func TestRecorder_Audio(t *testing.T) {
	inner := overlay.NewScripted(&overlay.Scenario{Audio: map[string]overlay.AudioScript{
		"story":  {DurationMs: 1},
		"static": {Error: "decode failed"},
	}})
	rec := newRecorder()
	a := rec.Audio(inner)
	ctx := context.Background()

	if err := a.Play(ctx, overlay.AudioRequest{ObjectID: "gate", ItemKey: "story"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Play(ctx, overlay.AudioRequest{ObjectID: "gate", ItemKey: "static"}); err == nil {
		t.Fatal("expected error")
	}
	if err := a.PlayBackground(ctx, overlay.AudioRequest{ObjectID: "gate", ItemKey: "bells"}); err != nil {
		t.Fatal(err)
	}
	a.Stop()

	sc := rec.Scenario()
	if sc.Audio["story"].DurationMs != 5 {
		t.Errorf("story = %+v", sc.Audio["story"])
	}
	if sc.Audio["static"].Error != "decode failed" {
		t.Errorf("static = %+v", sc.Audio["static"])
	}
	if _, ok := sc.Audio["bells"]; ok {
		t.Error("background audio should not be recorded")
	}
}

func TestRecorder_Solve(t *testing.T) {
	rec := newRecorder()
	var navigated []string
	nav := rec.Navigator(func(objectID, puzzleID string) {
		navigated = append(navigated, objectID+"/"+puzzleID)
	})
	solve := rec.Solver(func(id string) error {
		if id == "PZ9" {
			return errors.New("unknown puzzle")
		}
		return nil
	})

	nav("fountain", "PZ1")
	if err := solve("PZ1"); err != nil {
		t.Fatal(err)
	}
	if err := solve("PZ2"); err != nil {
		t.Fatal(err)
	}
	if err := solve("PZ9"); err == nil {
		t.Fatal("expected error")
	}

	if len(navigated) != 1 || navigated[0] != "fountain/PZ1" {
		t.Errorf("navigated = %v", navigated)
	}
	sc := rec.Scenario()
	if sc.Solve["PZ1"].DelayMs != 5 {
		t.Errorf("PZ1 = %+v", sc.Solve["PZ1"])
	}
	if s, ok := sc.Solve["PZ2"]; !ok || s.DelayMs != 0 {
		t.Errorf("PZ2 = %+v, %v", s, ok)
	}
	if _, ok := sc.Solve["PZ9"]; ok {
		t.Error("failed solve was recorded")
	}
}

func TestRecorder_SaveReplays(t *testing.T) {
	rec := newRecorder()
	h := rec.Host(overlay.NewScripted(&overlay.Scenario{Steps: map[string]overlay.StepScript{
		"photo": {Text: "gate.jpg"},
	}}))
	if _, err := h.Show(context.Background(), schema.ItemAction, req("photo")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "recorded.yaml")
	if err := rec.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	sc, err := overlay.LoadScenario(path)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := overlay.NewScripted(sc).Show(context.Background(), schema.ItemAction, req("photo"))
	if err != nil || ev == nil || ev.Text != "gate.jpg" {
		t.Errorf("replay: ev=%+v err=%v", ev, err)
	}
}
