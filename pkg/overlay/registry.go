package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// Registry is a Host backed by one Overlay per step type.
type Registry struct {
	mu       sync.RWMutex
	overlays map[schema.ItemType]Overlay
	notify   func(string)
}

// NewRegistry creates an empty registry. notify may be nil.
func NewRegistry(notify func(string)) *Registry {
	return &Registry{overlays: map[schema.ItemType]Overlay{}, notify: notify}
}

// Register installs the overlay for a step type, replacing any previous one.
func (r *Registry) Register(kind schema.ItemType, o Overlay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlays[kind] = o
}

func (r *Registry) lookup(kind schema.ItemType) (Overlay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.overlays[kind]
	return o, ok
}

// Show routes to the overlay registered for kind.
func (r *Registry) Show(ctx context.Context, kind schema.ItemType, req Request) (*Evidence, error) {
	o, ok := r.lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoOverlay, kind)
	}
	return o.Show(ctx, req)
}

// Close closes the overlay for kind, if registered.
func (r *Registry) Close(kind schema.ItemType) {
	if o, ok := r.lookup(kind); ok {
		o.Close()
	}
}

// Notify forwards to the notify func.
func (r *Registry) Notify(message string) {
	if r.notify != nil {
		r.notify(message)
	}
}
