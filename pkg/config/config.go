// Package config holds the engine's tunable timings and file locations.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level questline configuration document.
type Config struct {
	Completion CompletionConfig `yaml:"completion" json:"completion"`
	Action     ActionConfig     `yaml:"action"     json:"action"`
	Audio      AudioConfig      `yaml:"audio"      json:"audio"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"  json:"reconcile"`

	// Gate is an optional start-gate expression (see executor.ExprGate).
	Gate string `yaml:"gate,omitempty" json:"gate,omitempty"`

	StatePath string `yaml:"state_path,omitempty" json:"state_path,omitempty"`
	TracePath string `yaml:"trace_path,omitempty" json:"trace_path,omitempty"`
}

// CompletionConfig tunes the node completion client.
type CompletionConfig struct {
	MaxRetries    int           `yaml:"max_retries"    json:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"        json:"backoff"`
	ConfirmWindow time.Duration `yaml:"confirm_window" json:"confirm_window"`
	PollInterval  time.Duration `yaml:"poll_interval"  json:"poll_interval"`

	// FailOpen treats an unconfirmed write as done. When false the client
	// only reports success once the snapshot reads the node back.
	FailOpen bool `yaml:"fail_open" json:"fail_open"`
}

// ActionConfig tunes post-submission confirmation for action steps.
type ActionConfig struct {
	ConfirmWindow time.Duration `yaml:"confirm_window" json:"confirm_window"`
	PollInterval  time.Duration `yaml:"poll_interval"  json:"poll_interval"`
}

// AudioConfig bounds blocking playback.
type AudioConfig struct {
	EffectTimeout    time.Duration `yaml:"effect_timeout"    json:"effect_timeout"`
	NarrationTimeout time.Duration `yaml:"narration_timeout" json:"narration_timeout"`
}

// ReconcileConfig tunes end-of-timeline reconciliation.
type ReconcileConfig struct {
	Window       time.Duration `yaml:"window"        json:"window"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// Default returns the production timings.
func Default() Config {
	return Config{
		Completion: CompletionConfig{
			MaxRetries:    3,
			Backoff:       800 * time.Millisecond,
			ConfirmWindow: 1500 * time.Millisecond,
			PollInterval:  100 * time.Millisecond,
			FailOpen:      true,
		},
		Action: ActionConfig{
			ConfirmWindow: 1500 * time.Millisecond,
			PollInterval:  100 * time.Millisecond,
		},
		Audio: AudioConfig{
			EffectTimeout:    30 * time.Second,
			NarrationTimeout: 5 * time.Minute,
		},
		Reconcile: ReconcileConfig{
			Window:       1500 * time.Millisecond,
			PollInterval: 100 * time.Millisecond,
		},
	}
}

// Load reads a YAML config file layered over Default. Missing keys keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects timings the engine cannot work with.
func (c Config) Validate() error {
	if c.Completion.MaxRetries < 0 {
		return fmt.Errorf("completion.max_retries must be >= 0, got %d", c.Completion.MaxRetries)
	}
	if c.Completion.PollInterval <= 0 {
		return fmt.Errorf("completion.poll_interval must be positive")
	}
	if c.Action.PollInterval <= 0 {
		return fmt.Errorf("action.poll_interval must be positive")
	}
	if c.Reconcile.PollInterval <= 0 {
		return fmt.Errorf("reconcile.poll_interval must be positive")
	}
	if c.Audio.EffectTimeout <= 0 || c.Audio.NarrationTimeout <= 0 {
		return fmt.Errorf("audio timeouts must be positive")
	}
	return nil
}
