package completion

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ormasoftchile/questline/internal/questtest"
	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/trace"
)

func fastConfig() config.CompletionConfig {
	return config.CompletionConfig{
		MaxRetries:    3,
		Backoff:       time.Millisecond,
		ConfirmWindow: 20 * time.Millisecond,
		PollInterval:  time.Millisecond,
		FailOpen:      true,
	}
}

func newClient(t *testing.T) (*Client, *questtest.Runtime, *bytes.Buffer) {
	t.Helper()
	rt := questtest.NewRuntime(&schema.Quest{Objects: []schema.Object{{ID: "obj"}}})
	var buf bytes.Buffer
	return New(rt, fastConfig(), trace.NewWriter(&buf, "test")), rt, &buf
}

func events(t *testing.T, buf *bytes.Buffer, et trace.EventType) []trace.Event {
	t.Helper()
	all, err := trace.Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	return trace.Filter(all, et)
}

func TestComplete_Success(t *testing.T) {
	c, rt, _ := newClient(t)
	if !c.Complete(context.Background(), "obj", "t1") {
		t.Fatal("Complete = false, want true")
	}
	if got := rt.Completes(); len(got) != 1 || got[0] != runtime.NodeID("obj", "t1") {
		t.Errorf("calls = %v", got)
	}
	if rt.Refreshes() != 0 {
		t.Error("confirmed write should not refresh")
	}
}

func TestComplete_RetriesConflicts(t *testing.T) {
	c, rt, buf := newClient(t)
	node := runtime.NodeID("obj", "t1")
	rt.Conflict(node, 3)

	if !c.Complete(context.Background(), "obj", "t1") {
		t.Fatal("Complete = false after 3 conflicts, want true")
	}
	if got := len(rt.Completes()); got != 4 {
		t.Errorf("calls = %d, want 4", got)
	}
	retries := events(t, buf, trace.EventNodeConflictRetry)
	if len(retries) != 3 {
		t.Fatalf("retry events = %d, want 3", len(retries))
	}
	if retries[0].Data["node_id"] != node || retries[0].Data["item_key"] != "t1" {
		t.Errorf("retry event = %v", retries[0].Data)
	}
}

func TestComplete_GivesUpAfterMaxRetries(t *testing.T) {
	c, rt, buf := newClient(t)
	rt.Conflict(runtime.NodeID("obj", "t1"), 4)

	if c.Complete(context.Background(), "obj", "t1") {
		t.Fatal("Complete = true, want false")
	}
	if got := len(rt.Completes()); got != 4 {
		t.Errorf("calls = %d, want 4", got)
	}
	if len(events(t, buf, trace.EventNodeCompleteFailed)) != 1 {
		t.Error("expected node_complete_failed")
	}
}

func TestComplete_NonConflictErrorNotRetried(t *testing.T) {
	c, rt, _ := newClient(t)
	rt.Fail(runtime.NodeID("obj", "t1"), errors.New("network down"))
	if c.Complete(context.Background(), "obj", "t1") {
		t.Fatal("Complete = true, want false")
	}
	if got := len(rt.Completes()); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestComplete_RefreshConfirmsLaggingWrite(t *testing.T) {
	c, rt, buf := newClient(t)
	rt.Lag(runtime.NodeID("obj", "t1"))

	if !c.Complete(context.Background(), "obj", "t1") {
		t.Fatal("Complete = false")
	}
	if rt.Refreshes() != 1 {
		t.Errorf("refreshes = %d, want 1", rt.Refreshes())
	}
	if len(events(t, buf, trace.EventNodeUnconfirmed)) != 0 {
		t.Error("refresh confirmed the write; no unconfirmed event expected")
	}
}

func TestComplete_FailOpenOnUnconfirmed(t *testing.T) {
	c, rt, buf := newClient(t)
	rt.Drop(runtime.NodeID("obj", "t1"), false)

	if !c.Complete(context.Background(), "obj", "t1") {
		t.Fatal("fail-open Complete = false, want true")
	}
	evts := events(t, buf, trace.EventNodeUnconfirmed)
	if len(evts) != 1 {
		t.Fatalf("unconfirmed events = %d, want 1", len(evts))
	}
	if evts[0].Data["reason"] != "timeout" || evts[0].Data["fail_open"] != true {
		t.Errorf("event = %v", evts[0].Data)
	}
}

func TestComplete_VersionAdvanceStopsPollingEarly(t *testing.T) {
	c, rt, buf := newClient(t)
	c.Config.ConfirmWindow = time.Hour
	rt.Drop(runtime.NodeID("obj", "t1"), true)

	// The drop bumps the version before confirm takes its baseline, so
	// bump again on the first poll.
	done := make(chan bool)
	go func() { done <- c.Complete(context.Background(), "obj", "t1") }()
	time.Sleep(5 * time.Millisecond)
	rt.SetCurrentObject("obj")

	select {
	case ok := <-done:
		if !ok {
			t.Error("fail-open Complete = false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop on version advance")
	}
	evts := events(t, buf, trace.EventNodeUnconfirmed)
	if len(evts) != 1 || evts[0].Data["reason"] != "version_advanced" {
		t.Errorf("events = %v", evts)
	}
}

func TestComplete_StrictPolicy(t *testing.T) {
	c, rt, _ := newClient(t)
	c.Config.FailOpen = false
	rt.Drop(runtime.NodeID("obj", "t1"), false)
	if c.Complete(context.Background(), "obj", "t1") {
		t.Fatal("strict Complete = true for an unconfirmed write")
	}
}
