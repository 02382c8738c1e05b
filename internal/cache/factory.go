package cache

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Options selects and tunes the backend stack.
type Options struct {
	// RemoteURL enables the [redis, memory] composite when non-empty.
	RemoteURL string
	// SweepInterval for the in-memory store; zero means the default.
	SweepInterval time.Duration
	// Promote backfills earlier composite levels on deep hits.
	Promote bool
}

// New builds the cache stack from configuration: memory alone when no
// remote URL is set, otherwise a composite preferring the remote backend.
// An unreachable remote degrades to memory-only with a warning instead of
// failing startup.
func New(opts Options) Backend {
	mem := NewMemory(opts.SweepInterval)
	if opts.RemoteURL == "" {
		log.Info().Str("cache", mem.Name()).Msg("cache initialized")
		return mem
	}

	remote, err := NewRedis(opts.RemoteURL)
	if err != nil {
		log.Warn().Err(err).Msg("remote cache unreachable, using memory only")
		return mem
	}

	var copts []CompositeOption
	if opts.Promote {
		copts = append(copts, WithPromotion())
	}
	composite := NewComposite([]Backend{remote, mem}, copts...)
	log.Info().Str("cache", composite.Name()).Msg("cache initialized")
	return composite
}
