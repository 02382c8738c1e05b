package cache

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTTL is returned by Set when the TTL is zero or negative.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// ErrBackendDown is returned by the remote backend while its connection is
// lost. Operations fail fast instead of blocking on a dead socket.
var ErrBackendDown = errors.New("cache: backend unavailable")

// Metadata describes a live entry without exposing its value.
// It is derived on read, never stored.
type Metadata struct {
	Key       string    `json:"key"`
	TTL       int64     `json:"ttl"` // whole seconds remaining
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Backend is the contract shared by the in-memory store, the Redis adapter
// and the composite. Get and GetMetadata return (nil, nil) for both absent
// and expired keys; a non-nil error always means the backend itself faulted,
// never "not found".
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetMetadata(ctx context.Context, key string) (*Metadata, error)
	Clear(ctx context.Context) error
	Close() error
	Name() string
}

// TournamentKey builds the cache key for a tournament slug. Slugs are
// opaque and are not normalized.
func TournamentKey(slug string) string {
	return "tournament:" + slug
}
