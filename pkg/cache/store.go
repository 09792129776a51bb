// Package cache implements the embedding-keyed semantic response cache.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store for a missing or expired key.
var ErrNotFound = errors.New("cache: key not found")

// Store is a TTL-capable key/value store that can enumerate keys by prefix.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Keys lists live keys beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}
