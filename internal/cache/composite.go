package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// promotionQueueSize bounds pending promotions; excess promotions are
// dropped rather than queued without limit.
const promotionQueueSize = 64

type promotion struct {
	key   string
	value []byte
	level int // hit level; earlier backends receive the value
}

// CompositeOption configures a Composite.
type CompositeOption func(*Composite)

// WithPromotion enables backfilling earlier backends when a read hits at a
// deeper level. Promotion runs in the background and never delays the read.
func WithPromotion() CompositeOption {
	return func(c *Composite) { c.promote = true }
}

// Composite chains backends in preference order. Reads fall through faulted
// or empty backends; writes fan out to all of them and succeed when at
// least one backend accepted the write.
type Composite struct {
	backends []Backend
	promote  bool

	promoCh   chan promotion
	promoStop chan struct{}
	closeOnce sync.Once
}

// NewComposite builds a composite over backends ordered most-preferred
// first. It panics on an empty list; the factory never produces one.
func NewComposite(backends []Backend, opts ...CompositeOption) *Composite {
	if len(backends) == 0 {
		panic("cache: composite requires at least one backend")
	}
	c := &Composite{
		backends:  backends,
		promoCh:   make(chan promotion, promotionQueueSize),
		promoStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.promote {
		go c.promotionLoop()
	}
	return c
}

func (c *Composite) Name() string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return fmt.Sprintf("Composite(%s)", strings.Join(names, " → "))
}

// Backends exposes the chain for introspection (tests, status logging).
func (c *Composite) Backends() []Backend { return c.backends }

func (c *Composite) Get(ctx context.Context, key string) ([]byte, error) {
	for i, b := range c.backends {
		value, err := b.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("cache read fault, falling through")
			continue
		}
		if value != nil {
			if i > 0 {
				log.Debug().Str("backend", b.Name()).Int("level", i).Str("key", key).Msg("cache hit below preferred level")
				if c.promote {
					c.enqueuePromotion(key, value, i)
				}
			}
			return value, nil
		}
	}
	return nil, nil
}

func (c *Composite) Exists(ctx context.Context, key string) (bool, error) {
	for _, b := range c.backends {
		ok, err := b.Exists(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("cache exists fault, falling through")
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (c *Composite) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	for _, b := range c.backends {
		meta, err := b.GetMetadata(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("cache metadata fault, falling through")
			continue
		}
		if meta != nil {
			return meta, nil
		}
	}
	return nil, nil
}

// Set writes through to every backend in parallel. Partial failure is a
// success with a warning; total failure surfaces the first error.
func (c *Composite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	errs := c.fanOut(func(b Backend) error {
		return b.Set(ctx, key, value, ttl)
	})
	return c.reduceWrite("set", key, errs)
}

// Delete fans out to every backend; individual faults are logged and
// swallowed since an absent key is a no-op everywhere.
func (c *Composite) Delete(ctx context.Context, key string) error {
	errs := c.fanOut(func(b Backend) error {
		return b.Delete(ctx, key)
	})
	for i, err := range errs {
		if err != nil {
			log.Warn().Err(err).Str("backend", c.backends[i].Name()).Str("key", key).Msg("cache delete fault")
		}
	}
	return nil
}

func (c *Composite) Clear(ctx context.Context) error {
	errs := c.fanOut(func(b Backend) error {
		return b.Clear(ctx)
	})
	return c.reduceWrite("clear", "", errs)
}

func (c *Composite) Close() error {
	c.closeOnce.Do(func() { close(c.promoStop) })
	errs := c.fanOut(func(b Backend) error {
		return b.Close()
	})
	return c.reduceWrite("close", "", errs)
}

func (c *Composite) fanOut(op func(Backend) error) []error {
	errs := make([]error, len(c.backends))
	var wg sync.WaitGroup
	for i, b := range c.backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			errs[i] = op(b)
		}(i, b)
	}
	wg.Wait()
	return errs
}

func (c *Composite) reduceWrite(op, key string, errs []error) error {
	failed := 0
	var first error
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if first == nil {
			first = err
		}
		log.Warn().Err(err).Str("backend", c.backends[i].Name()).Str("op", op).Str("key", key).Msg("cache write fault")
	}
	if failed == len(errs) {
		return fmt.Errorf("cache %s failed on all backends: %w", op, first)
	}
	return nil
}

// enqueuePromotion schedules a backfill of the levels in front of the one
// that served the read. All remote work, the metadata lookup included,
// happens on the promotion goroutine so the hit returns immediately.
func (c *Composite) enqueuePromotion(key string, value []byte, level int) {
	select {
	case c.promoCh <- promotion{key: key, value: value, level: level}:
	default:
		// Queue full; dropping is preferable to unbounded growth.
	}
}

func (c *Composite) promotionLoop() {
	for {
		select {
		case p := <-c.promoCh:
			c.runPromotion(p)
		case <-c.promoStop:
			return
		}
	}
}

// runPromotion backfills the levels in front of the serving one. The TTL
// carried forward is whatever the serving backend still reports; if that
// cannot be read, or the entry has since expired, the promotion is skipped.
func (c *Composite) runPromotion(p promotion) {
	if p.level >= len(c.backends) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	meta, err := c.backends[p.level].GetMetadata(ctx, p.key)
	if err != nil || meta == nil || meta.TTL <= 0 {
		return
	}
	ttl := time.Duration(meta.TTL) * time.Second

	for i := 0; i < p.level; i++ {
		if err := c.backends[i].Set(ctx, p.key, p.value, ttl); err != nil && !errors.Is(err, ErrBackendDown) {
			log.Debug().Err(err).Str("backend", c.backends[i].Name()).Str("key", p.key).Msg("cache promotion failed")
		}
	}
}
