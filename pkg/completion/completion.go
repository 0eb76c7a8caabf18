// Package completion wraps the runtime's complete-node call with conflict
// retries and read-after-write confirmation.
package completion

import (
	"context"
	"time"

	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/run"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/trace"
)

// Client completes nodes.
type Client struct {
	Runtime runtime.Runtime
	Config  config.CompletionConfig
	Trace   *trace.Writer
}

// New creates a completion client.
func New(rt runtime.Runtime, cfg config.CompletionConfig, tw *trace.Writer) *Client {
	return &Client{Runtime: rt, Config: cfg, Trace: tw}
}

// Complete marks the node for (objectID, itemKey) completed. Conflicts
// are retried with a fixed backoff; a successful write is then confirmed
// against the snapshot. An unconfirmed write returns Config.FailOpen.
// Any other failure returns false.
func (c *Client) Complete(ctx context.Context, objectID, itemKey string) bool {
	nodeID := runtime.NodeID(objectID, itemKey)

	for attempt := 0; ; attempt++ {
		err := c.Runtime.CompleteNode(ctx, nodeID)
		if err == nil {
			break
		}
		if !runtime.IsConflict(err) || attempt >= c.Config.MaxRetries || ctx.Err() != nil {
			c.Trace.EmitNode(trace.EventNodeCompleteFailed, objectID, itemKey, nodeID, map[string]any{
				"attempts": attempt + 1,
				"error":    err.Error(),
			})
			return false
		}
		c.Trace.EmitNode(trace.EventNodeConflictRetry, objectID, itemKey, nodeID, map[string]any{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		if run.Sleep(ctx, c.Config.Backoff) != nil {
			return false
		}
	}

	return c.confirm(ctx, objectID, itemKey, nodeID)
}

// confirm waits for the node to read back as completed.
func (c *Client) confirm(ctx context.Context, objectID, itemKey, nodeID string) bool {
	base := c.Runtime.Snapshot()
	if base.Completed(nodeID) {
		return true
	}

	reason := "timeout"
	deadline := time.Now().Add(c.Config.ConfirmWindow)
	for time.Now().Before(deadline) {
		if run.Sleep(ctx, c.Config.PollInterval) != nil {
			return false
		}
		snap := c.Runtime.Snapshot()
		if snap.Completed(nodeID) {
			return true
		}
		// The version moved without our node: a real mismatch, not lag.
		if snap.VersionOf() != base.VersionOf() {
			reason = "version_advanced"
			break
		}
	}

	refreshErr := c.Runtime.Refresh(ctx)
	if refreshErr == nil && c.Runtime.Snapshot().Completed(nodeID) {
		return true
	}

	extra := map[string]any{
		"reason":    reason,
		"fail_open": c.Config.FailOpen,
		"version":   c.Runtime.Snapshot().VersionOf(),
	}
	if refreshErr != nil {
		extra["refresh_error"] = refreshErr.Error()
	}
	c.Trace.EmitNode(trace.EventNodeUnconfirmed, objectID, itemKey, nodeID, extra)
	return c.Config.FailOpen
}
