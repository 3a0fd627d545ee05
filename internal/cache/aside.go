package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/erezos/flappyjet-backend-sub000/internal/logger"
)

var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "cache_hits_total",
		Help:      "Cache-aside reads served from the cache backend.",
	})
	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "cache_misses_total",
		Help:      "Cache-aside reads that fell through to the database.",
	})
	backendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "cache_backend_errors_total",
		Help:      "Cache backend failures by operation; never fatal to the request.",
	}, []string{"op"})
	queryRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flappyjet",
		Name:      "cache_query_retries_total",
		Help:      "Query functions retried once after a transient failure.",
	})
)

const retryDelay = 250 * time.Millisecond

// QueryFunc computes the authoritative result for a cache key.
type QueryFunc[T any] func(ctx context.Context) (T, error)

// Result carries the value plus the freshness metadata serving endpoints
// expose as last_updated. ComputedAt is the time the value was computed,
// carried inside the cache envelope, so a warm read reports the original
// computation time rather than the live clock.
type Result[T any] struct {
	Data       T
	ComputedAt time.Time
	FromCache  bool
}

// envelope is the serialized form stored in the backend.
type envelope struct {
	ComputedAt time.Time       `json:"computed_at"`
	Data       json.RawMessage `json:"data"`
}

// Fetch is the cache-aside read path. It resolves the current backend
// through the provider, returns the cached value on a hit, and otherwise
// runs fn under timeout, retrying exactly once after a brief pause when the
// failure looks like transient resource exhaustion. On success the result
// is written back with ttl; a write failure is logged, not surfaced.
//
// An absent or non-ready backend skips the cache entirely, so serving
// keeps working (slower) with the cache down.
func Fetch[T any](ctx context.Context, p *Provider, key string, ttl, timeout time.Duration, fn QueryFunc[T]) (Result[T], error) {
	var res Result[T]

	backend := p.Current()
	usable := backend != nil && backend.Ready(ctx)

	if usable {
		raw, err := backend.Get(ctx, key)
		switch {
		case err == nil:
			var env envelope
			if uerr := json.Unmarshal(raw, &env); uerr == nil {
				if derr := json.Unmarshal(env.Data, &res.Data); derr == nil {
					hitsTotal.Inc()
					res.ComputedAt = env.ComputedAt
					res.FromCache = true
					return res, nil
				}
			}
			// Undecodable entry: treat as a miss and overwrite below.
			logger.Warn("cache entry undecodable", zap.String("key", key))
		case errors.Is(err, ErrMiss):
			// fall through to the query
		default:
			backendErrorsTotal.WithLabelValues("get").Inc()
			logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
	}
	missesTotal.Inc()

	data, err := runQuery(ctx, timeout, fn)
	if err != nil {
		return res, err
	}
	res.Data = data
	res.ComputedAt = time.Now().UTC()

	if usable {
		if raw, merr := marshalEnvelope(res.ComputedAt, data); merr != nil {
			logger.Warn("cache envelope marshal failed", zap.String("key", key), zap.Error(merr))
		} else if serr := backend.Set(ctx, key, raw, ttl); serr != nil {
			backendErrorsTotal.WithLabelValues("set").Inc()
			logger.Warn("cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return res, nil
}

func marshalEnvelope(at time.Time, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ComputedAt: at, Data: body})
}

// runQuery executes fn with a per-attempt timeout and a single constant-
// interval retry for transient failures (pool exhaustion, timeouts).
// Non-transient errors surface immediately.
func runQuery[T any](ctx context.Context, timeout time.Duration, fn QueryFunc[T]) (T, error) {
	var out T
	attempt := 0

	op := func() error {
		if attempt++; attempt > 1 {
			queryRetriesTotal.Inc()
		}
		qctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		data, err := fn(qctx)
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = data
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return out, err
	}
	return out, nil
}

// transient reports whether err looks like a resource-exhaustion condition
// worth one retry: a timed-out attempt or a saturated connection pool.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection pool",    // pgx pool saturation
		"too many clients",   // postgres max_connections
		"timeout",            // driver-level timeouts
		"database is locked", // sqlite busy (tests)
		"connection reset",   // flaky network to the db
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
