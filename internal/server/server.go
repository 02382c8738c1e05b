// Package server exposes the BFF's HTTP surface: cache-aware tournament
// reads, forced refresh, cache status, health and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/bracketlive/bracketd/internal/cache"
	"github.com/bracketlive/bracketd/internal/model"
	"github.com/bracketlive/bracketd/internal/telemetry/metrics"
)

// Fetcher materializes a tournament from upstream. The production
// implementation wraps the startgg client; tests substitute stubs.
type Fetcher interface {
	FetchTournament(ctx context.Context, slug string) (*model.Tournament, error)
}

// Config holds the HTTP-facing settings.
type Config struct {
	Port          int
	AllowedOrigin string
	Environment   string

	// RequestTimeout bounds inbound request handling (default 60s).
	RequestTimeout time.Duration
	// FetchTimeout bounds a detached upstream fetch; large tournaments
	// take a while under the rate budget (default 4m).
	FetchTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 4 * time.Minute
	}
}

// Server owns the router, the cache it reads through, and the
// single-flight gate collapsing concurrent misses.
type Server struct {
	cfg     Config
	router  *mux.Router
	httpSrv *http.Server
	cache   cache.Backend
	fetcher Fetcher
	flight  singleflight.Group
}

// New wires the router. The server owns its cache value; there is no
// process-wide cache handle.
func New(cfg Config, store cache.Backend, fetcher Fetcher) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		cache:   store,
		fetcher: fetcher,
	}
	s.routes()
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	// OPTIONS is listed so preflight requests reach the CORS middleware;
	// mux skips middleware entirely on a method mismatch.
	api.HandleFunc("/tournament/{slug}", s.handleGetTournament).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/tournament/{slug}/refresh", s.handleRefresh).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/tournament/{slug}/cache-status", s.handleCacheStatus).Methods(http.MethodGet, http.MethodOptions)

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	log.Info().Int("port", s.cfg.Port).Str("environment", s.cfg.Environment).Msg("server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and closes the cache.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("server shutting down")
	err := s.httpSrv.Shutdown(ctx)
	if cerr := s.cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKeyRequestID struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		duration := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(wrapper.status)).Observe(duration.Seconds())

		requestID, _ := r.Context().Value(ctxKeyRequestID{}).(string)
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", duration).
			Msg("request")
	})
}

// corsMiddleware allows the single configured origin with credentials.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && origin == s.cfg.AllowedOrigin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
