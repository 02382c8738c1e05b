package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/bracketlive/bracketd/internal/startgg"
)

type errorBody struct {
	Error  string `json:"error"`
	Source string `json:"source"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message, Source: "backend"})
}

// writeFetchError maps upstream failure classes onto HTTP statuses.
// Nothing that reaches here is cached.
func (s *Server) writeFetchError(w http.ResponseWriter, slug string, err error) {
	switch {
	case errors.Is(err, startgg.ErrNotFound):
		writeError(w, http.StatusNotFound, "tournament not found: "+slug)
	case errors.Is(err, startgg.ErrRateLimited):
		writeError(w, http.StatusServiceUnavailable, "upstream rate limit exceeded, try again shortly")
	case errors.Is(err, startgg.ErrUnavailable), errors.Is(err, startgg.ErrNetwork):
		writeError(w, http.StatusServiceUnavailable, "upstream unavailable")
	case errors.Is(err, startgg.ErrAuth):
		writeError(w, http.StatusInternalServerError, "upstream credentials rejected; check UPSTREAM_TOKEN")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "upstream fetch timed out")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
