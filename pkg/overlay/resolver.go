package overlay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoMedia is returned when an item has no media reference.
var ErrNoMedia = errors.New("overlay: no media url")

// URLResolver resolves relative media references against a base URL.
type URLResolver struct {
	Base *url.URL
}

// NewURLResolver parses base. An empty base leaves references unchanged.
func NewURLResolver(base string) (*URLResolver, error) {
	if base == "" {
		return &URLResolver{}, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse media base: %w", err)
	}
	return &URLResolver{Base: u}, nil
}

// Resolve returns an absolute URL for raw.
func (r *URLResolver) Resolve(ctx context.Context, raw string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNoMedia
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse media url %q: %w", raw, err)
	}
	if u.IsAbs() || r.Base == nil {
		return u.String(), nil
	}
	return r.Base.ResolveReference(u).String(), nil
}
