// Package cache defines the external cache-service contract the engine
// consumes, with an in-memory default and a Redis-backed implementation.
// Cache consistency is best-effort: callers degrade gracefully on failure.
package cache

import (
	"context"
	"strings"
	"time"
)

// Service is the key-value cache contract. Pattern syntax uses '*' as a
// wildcard segment within ':'-separated keys; a trailing '*' matches the
// rest of the key.
type Service interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	// InvalidatePattern removes every key matching the glob and returns the
	// number of keys removed. Invalidation is idempotent; repeated patterns
	// are harmless.
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) (bool, error)
}

// MatchPattern reports whether key matches a ':'-separated glob pattern.
// '*' matches exactly one segment, except in trailing position where it
// matches one or more remaining segments.
func MatchPattern(pattern, key string) bool {
	ps := strings.Split(pattern, ":")
	ks := strings.Split(key, ":")

	for i, p := range ps {
		if p == "*" && i == len(ps)-1 {
			// Trailing wildcard swallows the remainder.
			return len(ks) > i
		}
		if i >= len(ks) {
			return false
		}
		if p != "*" && p != ks[i] {
			return false
		}
	}
	return len(ks) == len(ps)
}
