package overlay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// ErrNoScenario is returned by a strict Scripted host for an item the
// scenario does not script.
var ErrNoScenario = errors.New("overlay: no scenario entry")

// Scenario scripts player behaviour per item key, so a quest can be
// played back deterministically without a device.
type Scenario struct {
	// Steps maps item key → overlay behaviour.
	Steps map[string]StepScript `yaml:"steps,omitempty" json:"steps,omitempty"`
	// Audio maps item key → playback behaviour.
	Audio map[string]AudioScript `yaml:"audio,omitempty" json:"audio,omitempty"`
	// Solve maps puzzle id → how long after navigation the player solves it.
	Solve map[string]SolveScript `yaml:"solve,omitempty" json:"solve,omitempty"`
}

// StepScript is the canned behaviour of one overlay.
type StepScript struct {
	DelayMs     int            `yaml:"delay_ms,omitempty"    json:"delay_ms,omitempty"`
	Hold        bool           `yaml:"hold,omitempty"        json:"hold,omitempty"`
	Cancelled   bool           `yaml:"cancelled,omitempty"   json:"cancelled,omitempty"`
	Text        string         `yaml:"text,omitempty"        json:"text,omitempty"`
	Data        map[string]any `yaml:"data,omitempty"        json:"data,omitempty"`
	Attachments []string       `yaml:"attachments,omitempty" json:"attachments,omitempty"`
	Error       string         `yaml:"error,omitempty"       json:"error,omitempty"`
}

// AudioScript is the canned behaviour of one audio item.
type AudioScript struct {
	DurationMs int    `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
	Hold       bool   `yaml:"hold,omitempty"        json:"hold,omitempty"`
	Error      string `yaml:"error,omitempty"       json:"error,omitempty"`
}

// SolveScript is the canned solving of one puzzle.
type SolveScript struct {
	DelayMs int `yaml:"delay_ms,omitempty" json:"delay_ms,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// Scripted is a Host, AudioPlayer and Effects driven by a Scenario. It
// records everything it is asked to do.
type Scripted struct {
	scenario *Scenario
	// Strict rejects items without a scenario entry instead of closing
	// them immediately.
	Strict bool

	mu        sync.Mutex
	log       []string
	holds     map[string]*hold
	started   map[string]chan struct{}
	audioStop chan struct{}
}

type hold struct {
	kind     schema.ItemType
	release  chan bool // true: with scripted evidence
	released bool
}

// NewScripted creates a scripted host. A nil scenario scripts nothing.
func NewScripted(s *Scenario) *Scripted {
	if s == nil {
		s = &Scenario{}
	}
	return &Scripted{
		scenario:  s,
		holds:     map[string]*hold{},
		started:   map[string]chan struct{}{},
		audioStop: make(chan struct{}),
	}
}

func (s *Scripted) record(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf(format, args...))
}

// Log returns every recorded interaction in order.
func (s *Scripted) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

func (s *Scripted) startedLocked(key string) chan struct{} {
	ch, ok := s.started[key]
	if !ok {
		ch = make(chan struct{})
		s.started[key] = ch
	}
	return ch
}

// WaitShowing blocks until an overlay for key has been shown.
func (s *Scripted) WaitShowing(ctx context.Context, key string) error {
	s.mu.Lock()
	ch := s.startedLocked(key)
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Show plays back the scripted behaviour for req.Item.Key.
func (s *Scripted) Show(ctx context.Context, kind schema.ItemType, req Request) (*Evidence, error) {
	key := req.Item.Key
	script, ok := s.scenario.Steps[key]
	if !ok && s.Strict {
		return nil, fmt.Errorf("%w: %s", ErrNoScenario, key)
	}
	s.record("show %s %s", kind, key)

	var h *hold
	s.mu.Lock()
	if script.Hold {
		h = &hold{kind: kind, release: make(chan bool, 1)}
		s.holds[key] = h
	}
	started := s.startedLocked(key)
	select {
	case <-started:
	default:
		close(started)
	}
	s.mu.Unlock()

	if script.Error != "" {
		return nil, errors.New(script.Error)
	}

	if h != nil {
		select {
		case withEvidence := <-h.release:
			if !withEvidence {
				return nil, nil
			}
		case <-ctx.Done():
			s.dropHold(key, h)
			return nil, ctx.Err()
		}
	} else if script.DelayMs > 0 {
		timer := time.NewTimer(time.Duration(script.DelayMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return script.evidence()
}

func (s *Scripted) dropHold(key string, h *hold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holds[key] == h {
		delete(s.holds, key)
	}
}

func (sc StepScript) evidence() (*Evidence, error) {
	if sc.Cancelled {
		return &Evidence{Cancelled: true}, nil
	}
	ev := &Evidence{Text: sc.Text, Data: sc.Data}
	for _, p := range sc.Attachments {
		a, err := Attach(p)
		if err != nil {
			return nil, err
		}
		ev.Attachments = append(ev.Attachments, a)
	}
	if ev.Empty() {
		return nil, nil
	}
	return ev, nil
}

// Release lets a held overlay return its scripted evidence, as if the
// player finished it. It reports whether an overlay was held.
func (s *Scripted) Release(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[key]
	if !ok || h.released {
		return false
	}
	h.released = true
	delete(s.holds, key)
	h.release <- true
	return true
}

// Close releases every held overlay of kind without evidence.
func (s *Scripted) Close(kind schema.ItemType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf("close %s", kind))
	for key, h := range s.holds {
		if h.kind == kind && !h.released {
			h.released = true
			delete(s.holds, key)
			h.release <- false
		}
	}
}

// Notify records a message.
func (s *Scripted) Notify(message string) {
	s.record("notify %s", message)
}

// Play plays back the scripted audio behaviour.
func (s *Scripted) Play(ctx context.Context, req AudioRequest) error {
	s.record("play %s", req.ItemKey)
	script := s.scenario.Audio[req.ItemKey]
	if script.Error != "" {
		return errors.New(script.Error)
	}

	s.mu.Lock()
	stop := s.audioStop
	s.mu.Unlock()

	var done <-chan time.Time
	if !script.Hold {
		timer := time.NewTimer(time.Duration(script.DurationMs) * time.Millisecond)
		defer timer.Stop()
		done = timer.C
	}
	select {
	case <-done:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlayBackground records the hand-off.
func (s *Scripted) PlayBackground(_ context.Context, req AudioRequest) error {
	s.record("background %s", req.ItemKey)
	return nil
}

// Stop ends any blocking playback.
func (s *Scripted) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, "stop audio")
	close(s.audioStop)
	s.audioStop = make(chan struct{})
}

// Pulse records the effect.
func (s *Scripted) Pulse(_ context.Context, req EffectRequest) error {
	s.record("pulse %s %.4f,%.4f", req.ItemKey, req.At.Lat, req.At.Lng)
	return nil
}

// PuzzleNavigator returns a navigation hook that solves scripted puzzles
// after their delay by calling solve. Unscripted puzzles stay open.
func (s *Scripted) PuzzleNavigator(ctx context.Context, solve func(puzzleID string) error) func(objectID, puzzleID string) {
	return func(objectID, puzzleID string) {
		s.record("navigate %s %s", objectID, puzzleID)
		script, ok := s.scenario.Solve[puzzleID]
		if !ok {
			return
		}
		go func() {
			timer := time.NewTimer(time.Duration(script.DelayMs) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
				if err := solve(puzzleID); err != nil {
					s.record("solve %s failed: %v", puzzleID, err)
					return
				}
				s.record("solved %s", puzzleID)
			case <-ctx.Done():
			}
		}()
	}
}
