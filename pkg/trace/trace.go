// Package trace implements the engine's append-only JSONL audit trail.
package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates all engine trace event types.
type EventType string

const (
	EventRunStart           EventType = "run_start"
	EventRunComplete        EventType = "run_complete"
	EventRunResumed         EventType = "run_resumed"
	EventRunCancelled       EventType = "run_cancelled"
	EventStepStart          EventType = "step_start"
	EventStepComplete       EventType = "step_complete"
	EventProgress           EventType = "progress"
	EventNodeConflictRetry  EventType = "node_conflict_retry"
	EventNodeCompleteFailed EventType = "node_complete_failed"
	EventNodeUnconfirmed    EventType = "node_unconfirmed"
	EventPuzzleBlocked      EventType = "puzzle_blocked"
	EventPuzzleIntegrity    EventType = "puzzle_data_integrity"
	EventActionFailed       EventType = "action_failed"
	EventUserCancelled      EventType = "user_cancelled"
	EventPlaybackTimeout    EventType = "playback_timeout"
	EventReconcileWarning   EventType = "reconcile_warning"
)

// StepStatus is the result of dispatching one timeline item.
type StepStatus string

const (
	StatusAdvanced StepStatus = "advanced"
	StatusLocal    StepStatus = "local"
	StatusBlocked  StepStatus = "blocked"
	StatusStopped  StepStatus = "stopped"
	StatusSkipped  StepStatus = "skipped"
)

// Event is a single trace event written to the JSONL stream. PrevHash is
// the SHA-256 of the previous line, so edits to a trace are detectable.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// genesisHash is the prev_hash of the first event of a trace.
var genesisHash = strings.Repeat("0", 64)

// Writer writes trace events to an append-only JSONL stream.
// A nil *Writer discards everything.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	runID string
	prev  string
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prev: genesisHash}
}

// NewFileWriter creates a trace writer that appends to a JSONL file,
// continuing the hash chain of any events already in it.
func NewFileWriter(path, runID string) (*Writer, error) {
	prev, err := lastLineHash(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	if prev != "" {
		tw.prev = prev
	}
	return tw, nil
}

// lastLineHash hashes the last non-empty line of path, or returns "" when
// the file is missing or empty.
func lastLineHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read trace file: %w", err)
	}
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return "", nil
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return hashLine(data), nil
}

func hashLine(line []byte) string {
	h := sha256.Sum256(line)
	return hex.EncodeToString(h[:])
}

// Close closes the underlying stream when it is closable.
func (tw *Writer) Close() error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if c, ok := tw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prev,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return err
	}
	tw.prev = hashLine(line)
	return nil
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(objectID string, version, nextIndex int, reset bool) error {
	return tw.Emit(EventRunStart, map[string]any{
		"object_id":  objectID,
		"version":    version,
		"next_index": nextIndex,
		"reset":      reset,
	})
}

// EmitRunComplete emits a run_complete event.
func (tw *Writer) EmitRunComplete(objectID, status string, nextIndex int, duration time.Duration) error {
	return tw.Emit(EventRunComplete, map[string]any{
		"object_id":  objectID,
		"status":     status,
		"next_index": nextIndex,
		"duration":   duration.String(),
	})
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(objectID, itemKey, itemType string, index int) error {
	return tw.Emit(EventStepStart, map[string]any{
		"object_id": objectID,
		"item_key":  itemKey,
		"type":      itemType,
		"index":     index,
	})
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(objectID, itemKey string, status StepStatus, message string, duration time.Duration) error {
	data := map[string]any{
		"object_id": objectID,
		"item_key":  itemKey,
		"status":    string(status),
		"duration":  duration.String(),
	}
	if message != "" {
		data["message"] = message
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitProgress emits a progress event.
func (tw *Writer) EmitProgress(objectID string, nextIndex int, completed []string, blockedBy string) error {
	data := map[string]any{
		"object_id":      objectID,
		"next_index":     nextIndex,
		"completed_keys": completed,
	}
	if blockedBy != "" {
		data["blocked_by_puzzle_id"] = blockedBy
	}
	return tw.Emit(EventProgress, data)
}

// EmitNode emits a node-scoped event (conflict retries, failures and
// unconfirmed writes) carrying the identity needed to diagnose desync.
func (tw *Writer) EmitNode(eventType EventType, objectID, itemKey, nodeID string, extra map[string]any) error {
	data := map[string]any{
		"object_id": objectID,
		"item_key":  itemKey,
		"node_id":   nodeID,
	}
	for k, v := range extra {
		data[k] = v
	}
	return tw.Emit(eventType, data)
}
