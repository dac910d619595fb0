package cache

import (
	"context"
	"time"

	zenerrors "zen/internal/errors"
	"zen/internal/logging"
)

// Failover wraps a Cache behind a circuit breaker. While the backend is
// failing, reads become misses and writes are skipped so the run proceeds
// against the store directly; operation resumes automatically once the
// breaker observes recovery. Callers consult Degraded to report honestly
// that cached fidelity was reduced.
type Failover struct {
	primary Cache
	breaker *zenerrors.CircuitBreaker
	logger  logging.Logger
}

// NewFailover wraps primary with breaker-protected access.
func NewFailover(primary Cache, breakerConfig zenerrors.CircuitBreakerConfig, logger logging.Logger) *Failover {
	return &Failover{
		primary: primary,
		breaker: zenerrors.NewCircuitBreaker("cache", breakerConfig),
		logger:  logging.OrNop(logger),
	}
}

// Get reads through the breaker. Backend failures and an open breaker both
// surface as a miss, never as a run-fatal error.
func (f *Failover) Get(ctx context.Context, key string) (string, bool, error) {
	if err := f.breaker.Allow(); err != nil {
		return "", false, nil
	}
	value, found, err := f.primary.Get(ctx, key)
	f.breaker.Mark(err)
	if err != nil {
		f.logger.Warn("cache get failed, bypassing: %v", err)
		return "", false, nil
	}
	return value, found, nil
}

// Set writes through the breaker. Failures are absorbed; the entry is
// simply not cached.
func (f *Failover) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := f.breaker.Allow(); err != nil {
		return nil
	}
	err := f.primary.Set(ctx, key, value, ttl)
	f.breaker.Mark(err)
	if err != nil {
		f.logger.Warn("cache set failed, skipping: %v", err)
	}
	return nil
}

// Delete removes through the breaker; failures are absorbed.
func (f *Failover) Delete(ctx context.Context, key string) error {
	if err := f.breaker.Allow(); err != nil {
		return nil
	}
	err := f.primary.Delete(ctx, key)
	f.breaker.Mark(err)
	if err != nil {
		f.logger.Warn("cache delete failed: %v", err)
	}
	return nil
}

// Degraded reports whether the backend is currently being bypassed.
func (f *Failover) Degraded() bool {
	return f.breaker.State() != zenerrors.StateClosed
}
