// Package cache provides the session and tool-result cache with a failover
// wrapper that keeps runs alive when the backing cache is down.
package cache

import (
	"context"
	"time"
)

// Cache stores small string payloads with per-entry TTL. Implementations
// must be safe for concurrent use. A miss is (value="", found=false, err=nil);
// err is reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
