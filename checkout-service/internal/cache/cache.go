package cache

import (
	"context"
	"errors"
	"time"
)

// Cache stores encoded backend responses. Keys are namespaced by the caller, e.g.
// "order:<id>" or "settings:merchant".
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix drops every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

var ErrCacheMiss = errors.New("cache miss")
