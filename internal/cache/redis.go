package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/bracketlive/bracketd/internal/telemetry/metrics"
)

const (
	redisConnectAttempts = 3
	redisConnectBase     = 500 * time.Millisecond
	redisConnectMax      = 2 * time.Second
	redisOpTimeout       = 3 * time.Second
)

// redisEnvelope is the self-describing blob stored under each key. Keeping
// the creation time inside the value lets GetMetadata report it; the expiry
// comes from the Redis TTL itself.
type redisEnvelope struct {
	CreatedAt int64  `json:"createdAt"` // unix millis
	Value     []byte `json:"value"`
}

// Redis is the remote backend. It owns a single client; while the
// connection is lost operations fail fast with ErrBackendDown and a
// background goroutine retries the connection.
type Redis struct {
	client       redis.Cmdable
	closer       interface{ Close() error }
	connected    atomic.Bool
	reconnecting atomic.Bool
}

// NewRedis connects to the given redis:// URL, retrying up to three times
// with exponential backoff capped at 2s per attempt.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	r := &Redis{client: client, closer: client}
	if err := r.connect(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

// newRedisWithClient is used by tests to inject a mock client.
func newRedisWithClient(client redis.Cmdable) *Redis {
	r := &Redis{client: client}
	r.connected.Store(true)
	return r
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < redisConnectAttempts; attempt++ {
		if attempt > 0 {
			backoff := redisConnectBase << uint(attempt-1)
			if backoff > redisConnectMax {
				backoff = redisConnectMax
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		err := r.client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			r.connected.Store(true)
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("redis connect failed")
	}
	return fmt.Errorf("redis connect: %w", lastErr)
}

// fault marks the connection lost and kicks off one background reconnect.
func (r *Redis) fault(err error) error {
	r.connected.Store(false)
	if r.reconnecting.CompareAndSwap(false, true) {
		go func() {
			defer r.reconnecting.Store(false)
			if cerr := r.connect(context.Background()); cerr != nil {
				log.Error().Err(cerr).Msg("redis reconnect failed")
			}
		}()
	}
	return fmt.Errorf("%w: %v", ErrBackendDown, err)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if !r.connected.Load() {
		return nil, ErrBackendDown
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, r.fault(err)
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("redis value decode: %w", err)
	}
	metrics.CacheHits.WithLabelValues(r.Name()).Inc()
	return env.Value, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if !r.connected.Load() {
		return ErrBackendDown
	}
	raw, err := json.Marshal(redisEnvelope{
		CreatedAt: time.Now().UnixMilli(),
		Value:     value,
	})
	if err != nil {
		return fmt.Errorf("redis value encode: %w", err)
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return r.fault(err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if !r.connected.Load() {
		return ErrBackendDown
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return r.fault(err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if !r.connected.Load() {
		return false, ErrBackendDown
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, r.fault(err)
	}
	return n > 0, nil
}

func (r *Redis) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	if !r.connected.Load() {
		return nil, ErrBackendDown
	}
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return nil, r.fault(err)
	}
	// -2: no key; -1: no expiry, which we never write.
	if ttl <= 0 {
		return nil, nil
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, r.fault(err)
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("redis value decode: %w", err)
	}
	ttlSec := int64(ttl / time.Second)
	if ttlSec < 1 {
		// Still readable, so never report zero seconds remaining.
		ttlSec = 1
	}
	now := time.Now()
	return &Metadata{
		Key:       key,
		TTL:       ttlSec,
		CreatedAt: time.UnixMilli(env.CreatedAt),
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if !r.connected.Load() {
		return ErrBackendDown
	}
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		return r.fault(err)
	}
	return nil
}

func (r *Redis) Close() error {
	r.connected.Store(false)
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
