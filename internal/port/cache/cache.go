// Package cache defines the port interface for caching control-plane lookups.
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is the port interface for key-value caching. A miss is reported by
// found == false, never by an error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key joins namespaced key parts with ".", which is valid both for in-process
// caches and NATS KV keys.
func Key(parts ...string) string {
	return strings.Join(parts, ".")
}
