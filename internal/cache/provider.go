package cache

import (
	"context"
	"sync/atomic"
)

// Provider holds the current cache backend and supports replacing it at
// runtime. Every request resolves the backend through its provider rather
// than capturing a handle, so a swap takes effect immediately without a
// restart.
type Provider struct {
	backend atomic.Value // of backendBox
}

// backendBox keeps atomic.Value happy when different concrete Backend
// types are swapped in over the process lifetime.
type backendBox struct {
	b Backend
}

// NewProvider wraps b, which may be nil (no cache at all).
func NewProvider(b Backend) *Provider {
	p := &Provider{}
	p.backend.Store(backendBox{b: b})
	return p
}

// Current returns the active backend, or nil.
func (p *Provider) Current() Backend {
	box, _ := p.backend.Load().(backendBox)
	return box.b
}

// Swap replaces the active backend. The displaced backend is returned so
// the caller can close it.
func (p *Provider) Swap(b Backend) Backend {
	old := p.Current()
	p.backend.Store(backendBox{b: b})
	return old
}

// State describes backend connectivity for the stats endpoint.
func (p *Provider) State(ctx context.Context) string {
	b := p.Current()
	if b == nil {
		return "absent"
	}
	if !b.Ready(ctx) {
		return b.Name() + ":unreachable"
	}
	return b.Name() + ":ready"
}

// Invalidate removes every cached entry under prefix on the active
// backend. Failures are reported to the caller for logging only; stale
// entries age out via TTL regardless.
func (p *Provider) Invalidate(ctx context.Context, prefix string) error {
	b := p.Current()
	if b == nil {
		return nil
	}
	return b.DeletePrefix(ctx, prefix)
}
