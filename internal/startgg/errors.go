package startgg

import "errors"

// Failure classes surfaced to the router. Everything else that goes wrong
// upstream arrives wrapped around one of these or as a plain error.
var (
	// ErrNotFound: upstream reports no tournament for the slug.
	ErrNotFound = errors.New("startgg: tournament not found")
	// ErrRateLimited: 429 responses exhausted the retry budget.
	ErrRateLimited = errors.New("startgg: rate limited")
	// ErrAuth: the bearer token was rejected; retrying cannot help.
	ErrAuth = errors.New("startgg: authentication failed")
	// ErrUnavailable: upstream 5xx or an open circuit.
	ErrUnavailable = errors.New("startgg: upstream unavailable")
	// ErrNetwork: the request never produced an HTTP response.
	ErrNetwork = errors.New("startgg: network error")
	// ErrClosed: the client was shut down.
	ErrClosed = errors.New("startgg: client closed")
)
