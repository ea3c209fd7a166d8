// Package cache is a small key-value port with a Redis adapter. Everything
// stored through it must be re-derivable from the database.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal contract used by the application. Implementations
// must be safe for concurrent use.
type Cache interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with a TTL; a non-positive TTL persists until evicted.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss, as opposed to a transport error.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "cache: miss" }
