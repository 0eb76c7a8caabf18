// Package run owns the execution token that makes the timeline executor
// cooperatively cancellable. At most one token is current per Controller;
// a newer Begin always wins over an older one.
package run

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a token.
type Status string

const (
	StatusRunning Status = "running"
	StatusIdle    Status = "idle"
)

// Token identifies one execution attempt of a (object, version) pair.
type Token struct {
	ObjectID string
	Version  int

	gen       uint64
	ctx       context.Context
	stop      context.CancelFunc
	cancelled atomic.Bool
	running   atomic.Bool
}

// Context is cancelled when the token is cancelled or finished. Awaited
// overlays and timers derive from it.
func (t *Token) Context() context.Context { return t.ctx }

// Generation is the token's position in the controller's issue order.
func (t *Token) Generation() uint64 { return t.gen }

// Cancelled reports whether a newer run or an explicit Cancel superseded
// this token.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Status returns running until Finish is called.
func (t *Token) Status() Status {
	if t.running.Load() {
		return StatusRunning
	}
	return StatusIdle
}

func (t *Token) cancel() {
	t.cancelled.Store(true)
	t.stop()
}

// Controller issues tokens.
type Controller struct {
	mu      sync.Mutex
	current *Token
	gen     uint64
}

// Begin issues a running token for (objectID, version). When the current
// token is for the same pair, still running, and force is false, Begin
// returns false and leaves that run alone. Otherwise the current token is
// cancelled and replaced.
func (c *Controller) Begin(ctx context.Context, objectID string, version int, force bool) (*Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.current; cur != nil {
		same := cur.ObjectID == objectID && cur.Version == version
		if same && cur.running.Load() && !cur.Cancelled() && !force {
			return nil, false
		}
		cur.cancel()
	}

	c.gen++
	tctx, stop := context.WithCancel(ctx)
	tok := &Token{ObjectID: objectID, Version: version, gen: c.gen, ctx: tctx, stop: stop}
	tok.running.Store(true)
	c.current = tok
	return tok, true
}

// Valid reports whether tok is still the current, running, uncancelled
// token. The executor checks it at every iteration and after every
// suspension point.
func (c *Controller) Valid(tok *Token) bool {
	if tok == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return tok == c.current && tok.gen == c.gen && tok.running.Load() && !tok.Cancelled()
}

// Finish moves tok to idle. It is deferred by the executor so it runs on
// every exit path.
func (c *Controller) Finish(tok *Token) {
	if tok == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tok.running.Store(false)
	tok.stop()
}

// Cancel cancels the current token, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.cancel()
	}
}

// Current describes the current token for observers.
func (c *Controller) Current() (objectID string, version int, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", 0, false
	}
	return c.current.ObjectID, c.current.Version, c.current.running.Load() && !c.current.Cancelled()
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
