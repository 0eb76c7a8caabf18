package executor

import (
	"bytes"
	"context"
	"slices"
	"testing"
	"time"

	"github.com/ormasoftchile/questline/internal/questtest"
	"github.com/ormasoftchile/questline/pkg/completion"
	"github.com/ormasoftchile/questline/pkg/handlers"
	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/trace"
)

type harness struct {
	exec   *Executor
	rt     *questtest.Runtime
	host   *overlay.Scripted
	quest  *schema.Quest
	traces *bytes.Buffer
}

func newHarness(t *testing.T, sc *overlay.Scenario, q *schema.Quest) *harness {
	t.Helper()
	rt := questtest.NewRuntime(q)
	host := overlay.NewScripted(sc)
	var buf bytes.Buffer
	tw := trace.NewWriter(&buf, "test")
	cfg := questtest.FastConfig()
	d := &handlers.Dispatcher{
		Runtime:   rt,
		Puzzles:   rt,
		Completer: completion.New(rt, cfg.Completion, tw),
		Host:      host,
		Audio:     host,
		Effects:   host,
		Config:    cfg,
		Trace:     tw,
	}
	return &harness{exec: New(d, cfg, tw), rt: rt, host: host, quest: q, traces: &buf}
}

func (h *harness) object(id string) *schema.Object { return h.quest.Object(id) }

func (h *harness) events(t *testing.T, et trace.EventType) []trace.Event {
	t.Helper()
	all, err := trace.Read(bytes.NewReader(h.traces.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	return trace.Filter(all, et)
}

func nodes(objectID string, keys ...string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = runtime.NodeID(objectID, k)
	}
	return out
}

func TestRun_SuspendAndResumeOnPuzzle(t *testing.T) {
	q := questtest.Quest([]string{"PZ1"}, questtest.Object("obj",
		questtest.Text("t1", true),
		questtest.Puzzle("p1", "PZ1"),
		questtest.BackgroundAudio("a1"),
	))
	h := newHarness(t, nil, q)
	ctx := context.Background()

	res := h.exec.Run(ctx, h.object("obj"), Options{})
	if res.Status != StatusSuspended {
		t.Fatalf("status = %q, want suspended", res.Status)
	}
	if res.Progress.BlockedByPuzzleID != "PZ1" || res.Progress.NextIndex != 1 {
		t.Errorf("progress = %+v", res.Progress)
	}
	if got := h.rt.Completes(); !slices.Equal(got, nodes("obj", "t1")) {
		t.Errorf("completes = %v", got)
	}
	if got := h.rt.Opened(); !slices.Equal(got, []string{"obj/PZ1"}) {
		t.Errorf("opened = %v", got)
	}

	w := NewWatcher(h.exec, q, h.exec.Trace)
	if got := w.Observe(ctx, h.rt.CompletedPuzzles()); len(got) != 0 {
		t.Fatalf("resumed before solve: %v", got)
	}
	if err := h.rt.SolvePuzzle("PZ1"); err != nil {
		t.Fatal(err)
	}
	if got := w.Observe(ctx, h.rt.CompletedPuzzles()); !slices.Equal(got, []string{"obj"}) {
		t.Fatalf("resumed = %v", got)
	}
	if got := w.Observe(ctx, h.rt.CompletedPuzzles()); len(got) != 0 {
		t.Errorf("second observation resumed again: %v", got)
	}
	w.Wait()

	if got := h.rt.Completes(); !slices.Equal(got, nodes("obj", "t1", "a1", runtime.EndNodeKey)) {
		t.Errorf("completes = %v", got)
	}
	shows := 0
	for _, l := range h.host.Log() {
		if l == "show text t1" {
			shows++
		}
	}
	if shows != 1 {
		t.Errorf("t1 shown %d times, want 1", shows)
	}
	if !slices.Contains(h.host.Log(), "background a1") {
		t.Errorf("log = %v", h.host.Log())
	}
	if ui := h.exec.Current(); ui.Progress.NextIndex != 3 || ui.Running {
		t.Errorf("ui = %+v", ui)
	}
	if n := len(h.events(t, trace.EventRunResumed)); n != 1 {
		t.Errorf("run_resumed events = %d", n)
	}
	if n := len(h.events(t, trace.EventReconcileWarning)); n != 0 {
		t.Errorf("unexpected reconcile warning")
	}
}

func TestRun_DisabledItemsAreNeverCompleted(t *testing.T) {
	q := questtest.Quest(nil, questtest.Object("obj",
		questtest.Disabled(questtest.Text("off1", true)),
		questtest.Text("t1", true),
		questtest.Disabled(questtest.Text("off2", true)),
	))
	h := newHarness(t, nil, q)

	res := h.exec.Run(context.Background(), h.object("obj"), Options{})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q", res.Status)
	}
	if got := h.rt.Completes(); !slices.Equal(got, nodes("obj", "t1", runtime.EndNodeKey)) {
		t.Errorf("completes = %v", got)
	}
	if res.Progress.NextIndex != 3 {
		t.Errorf("next index = %d, want 3", res.Progress.NextIndex)
	}
}

func TestRun_SingleActiveRun(t *testing.T) {
	q := questtest.Quest(nil,
		questtest.Object("X", questtest.Text("x1", true), questtest.Text("x2", true)),
		questtest.Object("Y", questtest.Text("y1", true)),
	)
	h := newHarness(t, &overlay.Scenario{Steps: map[string]overlay.StepScript{"x1": {Hold: true}}}, q)
	ctx := context.Background()

	xDone := make(chan *RunResult, 1)
	go func() { xDone <- h.exec.Run(ctx, h.object("X"), Options{}) }()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.host.WaitShowing(wctx, "x1"); err != nil {
		t.Fatal(err)
	}

	yRes := h.exec.Run(ctx, h.object("Y"), Options{})
	xRes := <-xDone

	if xRes.Status != StatusCancelled {
		t.Errorf("X status = %q, want cancelled", xRes.Status)
	}
	if got := h.rt.CompletesFor("X"); len(got) != 0 {
		t.Errorf("superseded run completed %v", got)
	}
	if yRes.Status != StatusCompleted {
		t.Errorf("Y status = %q", yRes.Status)
	}
	if slices.Contains(h.host.Log(), "show text x2") {
		t.Error("X continued after being superseded")
	}
}

func TestRun_BusyWhenAlreadyPlaying(t *testing.T) {
	q := questtest.Quest(nil, questtest.Object("X", questtest.Text("x1", true)))
	h := newHarness(t, &overlay.Scenario{Steps: map[string]overlay.StepScript{"x1": {Hold: true}}}, q)
	ctx := context.Background()

	first := make(chan *RunResult, 1)
	go func() { first <- h.exec.Run(ctx, h.object("X"), Options{}) }()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.host.WaitShowing(wctx, "x1"); err != nil {
		t.Fatal(err)
	}

	var idle []UI
	h.exec.Observe(func(ui UI) {
		if !ui.Running {
			idle = append(idle, ui)
		}
	})
	if res := h.exec.Run(ctx, h.object("X"), Options{}); res.Status != StatusBusy {
		t.Errorf("status = %q, want busy", res.Status)
	}
	if len(idle) != 0 {
		t.Errorf("busy run published an idle UI: %+v", idle)
	}
	if !h.exec.Current().Running {
		t.Error("the held run should still read as running")
	}
	h.host.Release("x1")
	if res := <-first; res.Status != StatusCompleted {
		t.Errorf("first run = %q", res.Status)
	}
}

func TestRun_BadPuzzleDataSkipsLocally(t *testing.T) {
	q := questtest.Quest([]string{"PZ1"}, questtest.Object("obj",
		questtest.Puzzle("p1", "PZ-gone"),
		questtest.Text("t2", true),
	))
	h := newHarness(t, nil, q)

	res := h.exec.Run(context.Background(), h.object("obj"), Options{})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q", res.Status)
	}
	if got := h.rt.Completes(); !slices.Equal(got, nodes("obj", "t2", runtime.EndNodeKey)) {
		t.Errorf("completes = %v", got)
	}
	if !res.Progress.CompletedKeys["p1"] {
		t.Error("p1 should be completed locally")
	}
}

func TestRun_ResumesAtFirstIncompleteItem(t *testing.T) {
	q := questtest.Quest(nil, questtest.Object("obj", questtest.Text("t1", true), questtest.Text("t2", true)))
	h := newHarness(t, nil, q)
	if err := h.rt.Memory.CompleteNode(context.Background(), runtime.NodeID("obj", "t1")); err != nil {
		t.Fatal(err)
	}

	h.exec.Run(context.Background(), h.object("obj"), Options{})
	if slices.Contains(h.host.Log(), "show text t1") {
		t.Error("completed item replayed")
	}
	if !slices.Contains(h.host.Log(), "show text t2") {
		t.Errorf("log = %v", h.host.Log())
	}
}

func TestRun_ResetReplaysFromStart(t *testing.T) {
	q := questtest.Quest(nil, questtest.Object("obj", questtest.Text("t1", true), questtest.Text("t2", true)))
	h := newHarness(t, nil, q)
	ctx := context.Background()

	h.exec.Run(ctx, h.object("obj"), Options{})
	h.exec.Run(ctx, h.object("obj"), Options{Reset: true})

	want := []string{"show text t1", "show text t2", "show text t1", "show text t2"}
	if got := h.host.Log(); !slices.Equal(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
}

func TestRun_StopLeavesItemResumable(t *testing.T) {
	act := schema.ItemSpec{Key: "act", Type: schema.ItemAction, Action: &schema.ActionPayload{Kind: "photo"}}
	q := questtest.Quest(nil, questtest.Object("obj", questtest.Text("t1", true), act))
	h := newHarness(t, &overlay.Scenario{Steps: map[string]overlay.StepScript{"act": {Cancelled: true}}}, q)

	res := h.exec.Run(context.Background(), h.object("obj"), Options{})
	if res.Status != StatusStopped || res.Reason != handlers.ReasonUserCancelled {
		t.Fatalf("result = %+v", res)
	}
	if res.Progress.NextIndex != 1 {
		t.Errorf("next index = %d, want 1", res.Progress.NextIndex)
	}
	if h.rt.Snapshot().Completed(runtime.NodeID("obj", runtime.EndNodeKey)) {
		t.Error("stopped run must not complete the timeline")
	}
}

func TestRun_GateEmptyInvalid(t *testing.T) {
	q := questtest.Quest(nil,
		questtest.Object("obj", questtest.Text("t1", true)),
		questtest.Object("empty"),
		questtest.Object("bad", schema.ItemSpec{Key: "x", Type: "hologram"}),
	)
	h := newHarness(t, nil, q)
	ctx := context.Background()

	gate, err := NewExprGate(`vars.interacted == true && objectId != ""`)
	if err != nil {
		t.Fatal(err)
	}
	h.exec.Gate = gate
	if res := h.exec.Run(ctx, h.object("obj"), Options{}); res.Status != StatusDenied {
		t.Errorf("status = %q, want denied", res.Status)
	}
	if len(h.host.Log()) != 0 {
		t.Error("denied run showed something")
	}
	gate.Set("interacted", true)
	if res := h.exec.Run(ctx, h.object("obj"), Options{}); res.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", res.Status)
	}

	if res := h.exec.Run(ctx, h.object("empty"), Options{}); res.Status != StatusEmpty {
		t.Errorf("status = %q, want empty", res.Status)
	}
	if res := h.exec.Run(ctx, h.object("bad"), Options{}); res.Status != StatusInvalid || res.Message == "" {
		t.Errorf("result = %+v, want invalid", res)
	}
}

func TestRun_ReconcileWarningIsNotFatal(t *testing.T) {
	q := questtest.Quest(nil, questtest.Object("obj", questtest.Text("t1", true)))
	h := newHarness(t, nil, q)
	h.rt.Drop(runtime.NodeID("obj", runtime.EndNodeKey), false)

	res := h.exec.Run(context.Background(), h.object("obj"), Options{})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q", res.Status)
	}
	if n := len(h.events(t, trace.EventReconcileWarning)); n != 1 {
		t.Errorf("reconcile warnings = %d, want 1", n)
	}
	if h.rt.Refreshes() == 0 {
		t.Error("reconcile should force a refresh")
	}
}

func TestRun_DisconnectedPlayerStopsResumably(t *testing.T) {
	gone := overlay.StepScript{Error: "bridge: no player connected"}
	q := questtest.Quest(nil, questtest.Object("obj",
		questtest.Text("t1", true),
		schema.ItemSpec{Key: "v1", Type: schema.ItemVideo, Video: &schema.VideoPayload{URL: "intro.mp4"}},
		questtest.Text("t2", true),
	))
	h := newHarness(t, &overlay.Scenario{Steps: map[string]overlay.StepScript{"t1": gone, "v1": gone, "t2": gone}}, q)

	res := h.exec.Run(context.Background(), h.object("obj"), Options{})
	if res.Status != StatusStopped || res.Reason != handlers.ReasonOverlayFailed {
		t.Fatalf("result = %+v", res)
	}
	if got := h.rt.Completes(); len(got) != 0 {
		t.Errorf("completes = %v", got)
	}
	if res.Progress.NextIndex != 0 {
		t.Errorf("next index = %d, want 0", res.Progress.NextIndex)
	}
	if h.rt.Snapshot().CurrentObjectID != "obj" {
		t.Error("the object must not be finished while the player is away")
	}
}

func TestRun_ObserversSeeProgress(t *testing.T) {
	q := questtest.Quest(nil, questtest.Object("obj", questtest.Text("t1", true), questtest.Text("t2", true)))
	h := newHarness(t, nil, q)

	var seen []int
	h.exec.Observe(func(ui UI) { seen = append(seen, ui.Progress.NextIndex) })
	h.exec.Run(context.Background(), h.object("obj"), Options{})

	if !slices.Equal(seen, []int{0, 1, 2, 2}) {
		t.Errorf("published next indexes = %v", seen)
	}
}

func TestOpen(t *testing.T) {
	act := schema.ItemSpec{Key: "act", Type: schema.ItemAction, Action: &schema.ActionPayload{Kind: "photo"}}
	q := questtest.Quest([]string{"PZ1"}, questtest.Object("obj",
		questtest.Text("t1", true), act, questtest.Puzzle("p1", "PZ1")))
	h := newHarness(t, &overlay.Scenario{Steps: map[string]overlay.StepScript{"act": {Text: "done"}}}, q)
	ctx := context.Background()

	res, err := h.exec.Open(ctx, h.object("obj"), "act")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted || !res.Progress.CompletedKeys["act"] {
		t.Errorf("result = %+v", res)
	}
	if slices.Contains(h.host.Log(), "show text t1") {
		t.Error("open must not walk the timeline")
	}

	res, err = h.exec.Open(ctx, h.object("obj"), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuspended {
		t.Errorf("puzzle open = %q", res.Status)
	}
	if id, ok := h.exec.Blocked("obj"); !ok || id != "PZ1" {
		t.Errorf("blocked = %q, %v", id, ok)
	}

	if _, err := h.exec.Open(ctx, h.object("obj"), "t1"); err == nil {
		t.Error("text items cannot be opened")
	}
	if _, err := h.exec.Open(ctx, h.object("obj"), "nope"); err == nil {
		t.Error("unknown key should fail")
	}
}

func TestWatcher_Watch(t *testing.T) {
	q := questtest.Quest([]string{"PZ1"}, questtest.Object("obj", questtest.Puzzle("p1", "PZ1"), questtest.Text("t2", true)))
	h := newHarness(t, nil, q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if res := h.exec.Run(ctx, h.object("obj"), Options{}); res.Status != StatusSuspended {
		t.Fatalf("status = %q", res.Status)
	}

	results := make(chan *RunResult, 1)
	w := NewWatcher(h.exec, q, nil)
	w.OnResult = func(r *RunResult) { results <- r }
	updates, unsubscribe := h.rt.Subscribe()
	defer unsubscribe()
	go w.Watch(ctx, updates, h.rt)

	if err := h.rt.SolvePuzzle("PZ1"); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-results:
		if r.Status != StatusCompleted {
			t.Errorf("resumed status = %q", r.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never resumed")
	}
	w.Wait()
}
