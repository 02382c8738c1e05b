package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bracketlive/bracketd/internal/telemetry/metrics"
)

// DefaultSweepInterval is how often the background sweep scans for expired
// entries when no interval is configured.
const DefaultSweepInterval = 300 * time.Second

// sweepBatch bounds how many keys a single lock acquisition may remove so
// the sweep never stalls readers on a large map.
const sweepBatch = 1024

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

// Memory is the in-process backend. Expiry is millisecond-precise; entries
// are evicted lazily on access and by a periodic sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates an in-memory backend and starts its sweep worker.
// sweepInterval <= 0 selects DefaultSweepInterval.
func NewMemory(sweepInterval time.Duration) *Memory {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	m := &Memory{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go m.sweepLoop(sweepInterval)
	return m
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		m.evict(key, e.expiresAt)
		return nil, nil
	}
	metrics.CacheHits.WithLabelValues(m.Name()).Inc()
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	now := time.Now()
	buf := append([]byte(nil), value...)
	m.mu.Lock()
	m.entries[key] = memoryEntry{
		value:     buf,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(e.expiresAt) {
		m.evict(key, e.expiresAt)
		return false, nil
	}
	return true, nil
}

func (m *Memory) GetMetadata(_ context.Context, key string) (*Metadata, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	now := time.Now()
	if now.After(e.expiresAt) {
		m.evict(key, e.expiresAt)
		return nil, nil
	}
	ttlSec := int64(e.expiresAt.Sub(now) / time.Second)
	if ttlSec < 1 {
		// Still readable, so never report zero seconds remaining.
		ttlSec = 1
	}
	return &Metadata{
		Key:       key,
		TTL:       ttlSec,
		CreatedAt: e.createdAt,
		ExpiresAt: e.expiresAt,
	}, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Close stops the sweep worker and empties the map.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// evict removes key only if its expiry still matches, so a concurrent Set
// of a fresh entry is never torn down.
func (m *Memory) evict(key string, expiresAt time.Time) {
	m.mu.Lock()
	if e, ok := m.entries[key]; ok && e.expiresAt.Equal(expiresAt) {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("memory cache sweep")
			}
		case <-m.stop:
			return
		}
	}
}

// sweep removes expired entries in bounded batches, releasing the lock
// between batches.
func (m *Memory) sweep() int {
	removed := 0
	for {
		now := time.Now()
		m.mu.Lock()
		n := 0
		for key, e := range m.entries {
			if now.After(e.expiresAt) {
				delete(m.entries, key)
				removed++
				n++
				if n == sweepBatch {
					break
				}
			}
		}
		m.mu.Unlock()
		if n < sweepBatch {
			return removed
		}
	}
}
