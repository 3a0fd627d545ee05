// Package cache implements the cache-aside layer in front of the serving
// endpoints. The cache is strictly an optimization: every path that can
// read from it has an equivalent path that recomputes from the database,
// and an absent or unreachable backend only costs latency, never
// correctness.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Backend.Get when the key is not present.
var ErrMiss = errors.New("cache: miss")

// Backend is a volatile key/value store with TTL semantics. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and the stats endpoint.
	Name() string

	// Ready reports whether the backend is currently usable. A false
	// return makes the cache-aside layer skip straight to the source of
	// truth.
	Ready(ctx context.Context) bool

	// Get returns the value stored under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix removes every key starting with prefix. Used by
	// aggregator workers to invalidate the views they just rewrote.
	DeletePrefix(ctx context.Context, prefix string) error
}
