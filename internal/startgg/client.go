package startgg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bracketlive/bracketd/internal/telemetry/metrics"
)

const defaultBaseURL = "https://api.start.gg/gql/alpha"

// Config tunes the upstream client. Zero values select the defaults noted
// per field.
type Config struct {
	Token   string
	BaseURL string // default: the start.gg alpha endpoint

	// MinInterval is the minimum gap between outbound dispatches. The
	// default 800ms keeps us at ~75 req/min under the 80 req/min ceiling.
	MinInterval time.Duration
	// MaxRetries bounds 429 retries per logical request (default 3).
	MaxRetries int
	// RetryBase is the backoff base: baseDelay·2^attempt (default 2s).
	RetryBase time.Duration

	PageSize  int // sets per page (default 30)
	PageLimit int // pages per phase group (default 10)

	EventLimit    int // events per tournament query (default 10)
	EntrantSample int // entrant sample per event (default 64)

	HTTPTimeout time.Duration // per-request timeout (default 30s)
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 800 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 30
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 10
	}
	if c.EventLimit <= 0 {
		c.EventLimit = 10
	}
	if c.EntrantSample <= 0 {
		c.EntrantSample = 64
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
}

type call struct {
	ctx       context.Context
	query     string
	variables map[string]any
	reply     chan callResult
}

type callResult struct {
	data json.RawMessage
	err  error
}

// Client talks to the upstream GraphQL API. All outbound requests funnel
// through a single dispatcher goroutine, so the one-in-flight and
// min-interval invariants hold by construction.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker

	queue    chan *call
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a client and starts its dispatcher.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "startgg",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
			},
		}),
		queue: make(chan *call, 128),
		stop:  make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

// Close stops the dispatcher. Requests still queued or waiting on a reply
// receive ErrClosed rather than blocking on a dispatcher that is gone.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// do enqueues one GraphQL request and waits for its result. The reply
// channel is buffered so an abandoned caller never blocks the dispatcher.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	cl := &call{
		ctx:       ctx,
		query:     query,
		variables: variables,
		reply:     make(chan callResult, 1),
	}
	select {
	case c.queue <- cl:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return ErrClosed
	}
	select {
	case res := <-cl.reply:
		if res.err != nil {
			return res.err
		}
		return json.Unmarshal(res.data, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return ErrClosed
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.stop:
			c.drainQueue()
			return
		case cl := <-c.queue:
			// Discard requests whose caller gave up while queued.
			if err := cl.ctx.Err(); err != nil {
				cl.reply <- callResult{err: err}
				continue
			}
			data, err := c.execute(cl.ctx, cl.query, cl.variables)
			cl.reply <- callResult{data: data, err: err}
		}
	}
}

// drainQueue fails every call still queued at shutdown.
func (c *Client) drainQueue() {
	for {
		select {
		case cl := <-c.queue:
			cl.reply <- callResult{err: ErrClosed}
		default:
			return
		}
	}
}

// execute runs one logical request: pacing, the HTTP round trip, and the
// 429 retry loop. Only rate-limit responses are retried here; other
// failures surface immediately with their classification.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		if c.breaker.State() == gobreaker.StateOpen {
			metrics.UpstreamRequests.WithLabelValues("circuit_open").Inc()
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, err := c.roundTrip(ctx, query, variables)
		if err == nil {
			metrics.UpstreamRequests.WithLabelValues("ok").Inc()
			return data, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			metrics.UpstreamRequests.WithLabelValues(outcomeLabel(err)).Inc()
			return nil, err
		}

		metrics.UpstreamRequests.WithLabelValues("rate_limited").Inc()
		if attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("%w: retry budget exhausted after %d attempts", ErrRateLimited, attempt+1)
		}
		backoff := c.cfg.RetryBase << uint(attempt)
		metrics.UpstreamRetries.Inc()
		log.Warn().Dur("backoff", backoff).Int("attempt", attempt+1).Msg("upstream rate limited, backing off")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "error"
	}
}

// roundTrip performs a single HTTP attempt. The circuit breaker only counts
// transport failures and 5xx as failures; 401/404/429 say nothing about
// upstream health.
func (c *Client) roundTrip(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, err
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}

	resp := res.(*http.Response)
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected upstream status %d", resp.StatusCode)
	}

	var gql gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return nil, fmt.Errorf("upstream response decode: %w", err)
	}
	if len(gql.Errors) > 0 {
		return nil, fmt.Errorf("upstream query error: %s", gql.Errors[0].Message)
	}
	return gql.Data, nil
}
