package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/bracketlive/bracketd/internal/cache"
	"github.com/bracketlive/bracketd/internal/model"
	"github.com/bracketlive/bracketd/internal/telemetry/metrics"
	"github.com/bracketlive/bracketd/internal/ttl"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": s.cfg.Environment,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "unknown route")
}

// handleGetTournament serves from cache when it can; a miss (or an
// explicit refresh=true) goes upstream through the single-flight gate.
func (s *Server) handleGetTournament(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	if slug == "" {
		writeError(w, http.StatusBadRequest, "missing tournament slug")
		return
	}
	refresh := r.URL.Query().Get("refresh") == "true"
	key := cache.TournamentKey(slug)

	if !refresh {
		// Hits are counted by the backend that serves them.
		if resp := s.readCached(r.Context(), key); resp != nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		metrics.CacheMisses.Inc()
	}

	resp, err := s.fetchShared(key, slug, refresh)
	if err != nil {
		s.writeFetchError(w, slug, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh always drops the entry and fetches fresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	key := cache.TournamentKey(slug)

	if err := s.cache.Delete(r.Context(), key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache delete failed during refresh")
	}

	resp, err := s.fetchShared(key, slug, true)
	if err != nil {
		s.writeFetchError(w, slug, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCacheStatus reports cache metadata without touching upstream.
func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	key := cache.TournamentKey(slug)

	md, err := s.cache.GetMetadata(r.Context(), key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache metadata fault")
	}
	if md == nil {
		writeJSON(w, http.StatusOK, map[string]any{"cached": false, "metadata": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cached": true, "metadata": md})
}

// readCached returns a hit response or nil. Cache faults are recovered
// locally; they can only turn a hit into a miss.
func (s *Server) readCached(ctx context.Context, key string) *model.TournamentResponse {
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache read fault")
		return nil
	}
	if value == nil {
		return nil
	}

	var t model.Tournament
	if err := json.Unmarshal(value, &t); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cached value corrupt, treating as miss")
		return nil
	}

	meta := ttl.MetadataFor(&t, time.Now())
	if md, err := s.cache.GetMetadata(ctx, key); err == nil && md != nil {
		created := md.CreatedAt
		remaining := md.TTL
		meta.CachedAt = &created
		meta.TTL = &remaining
	}
	return &model.TournamentResponse{Data: &t, Cached: true, Metadata: meta}
}

// fetchShared funnels concurrent misses for one key into a single upstream
// fetch. A forced refresh forgets any in-flight leader first, so it starts
// its own generation; late readers join the fresher flight.
func (s *Server) fetchShared(key, slug string, refresh bool) (*model.TournamentResponse, error) {
	if refresh {
		s.flight.Forget(key)
	}
	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		return s.fetchAndStore(slug, key)
	})
	if shared {
		metrics.CoalescedReads.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.TournamentResponse), nil
}

// fetchAndStore runs on a context detached from the initiating request:
// if the leader client disconnects, coalesced followers and the cache
// still get the result.
func (s *Server) fetchAndStore(slug, key string) (*model.TournamentResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
	defer cancel()

	t, err := s.fetcher.FetchTournament(ctx, slug)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	d, counts := ttl.ForTournament(t, now)
	resp := &model.TournamentResponse{
		Data:   t,
		Cached: false,
		Metadata: model.ResponseMetadata{
			HasOngoingMatches: counts.Ongoing > 0,
			HasRecentMatches:  counts.RecentlyCompleted > 0,
			Counts:            counts,
		},
	}

	payload, err := json.Marshal(t)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("tournament marshal failed, serving uncached")
		return resp, nil
	}
	if err := s.cache.Set(ctx, key, payload, d); err != nil {
		// Degrade to served-fresh-not-cached; upstream succeeded.
		log.Warn().Err(err).Str("key", key).Msg("cache write failed, serving uncached")
		return resp, nil
	}

	ttlSec := int64(d / time.Second)
	resp.Metadata.TTL = &ttlSec
	resp.Metadata.CachedAt = &now
	return resp, nil
}
