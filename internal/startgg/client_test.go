package startgg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketlive/bracketd/internal/model"
)

func respond(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
}

func decodeRequest(t *testing.T, r *http.Request) (string, map[string]any) {
	t.Helper()
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req.Query, req.Variables
}

func entrant(id int, tag string) map[string]any {
	return map[string]any{
		"id":   id,
		"name": tag,
		"participants": []any{
			map[string]any{"id": id * 10, "gamerTag": tag},
		},
	}
}

func slot(e map[string]any, score any) map[string]any {
	s := map[string]any{"entrant": e}
	if score != nil {
		s["standing"] = map[string]any{
			"stats": map[string]any{"score": map[string]any{"value": score}},
		}
	}
	return s
}

func testConfig(baseURL string) Config {
	return Config{
		Token:       "secret-token",
		BaseURL:     baseURL,
		MinInterval: time.Millisecond,
		MaxRetries:  3,
		RetryBase:   2 * time.Millisecond,
		PageSize:    30,
		PageLimit:   10,
	}
}

func TestFetchTournament_Assembly(t *testing.T) {
	completedAt := time.Now().Add(-time.Hour).Unix()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		query, vars := decodeRequest(t, r)
		switch {
		case strings.Contains(query, "TournamentBySlug"):
			assert.Equal(t, "demo", vars["slug"])
			respond(t, w, map[string]any{"tournament": map[string]any{
				"id": 42, "name": "Demo Open", "slug": "demo", "url": "https://start.gg/demo",
				"events": []any{map[string]any{
					"id": 100, "name": "Singles", "slug": "singles",
					"entrants": map[string]any{"nodes": []any{entrant(1, "Alpha")}},
				}},
			}})
		case strings.Contains(query, "EventPhaseGroups"):
			assert.Equal(t, "100", vars["eventId"])
			respond(t, w, map[string]any{"event": map[string]any{
				"phaseGroups": []any{map[string]any{
					"id": 7, "displayIdentifier": "A1", "phase": map[string]any{"name": "Pools"},
				}},
			}})
		case strings.Contains(query, "PhaseGroupSets"):
			sets := make([]any, 0, 6)
			for i := 0; i < 5; i++ {
				sets = append(sets, map[string]any{
					"id": fmt.Sprintf("set-%d", i), "round": 1, "fullRoundText": "Winners Round 1",
					"state": 3, "winnerId": 1, "completedAt": completedAt,
					"slots": []any{
						slot(entrant(1, "Alpha"), 2),
						slot(entrant(2, "Beta"), 1),
					},
				})
			}
			// One live set with an unidentifiable opponent.
			sets = append(sets, map[string]any{
				"id": "set-live", "round": 2, "state": 2,
				"slots": []any{
					slot(entrant(2, "Beta"), nil),
					slot(map[string]any{"id": nil, "name": "", "participants": []any{}}, nil),
				},
			})
			respond(t, w, map[string]any{"phaseGroup": map[string]any{
				"sets": map[string]any{"nodes": sets},
			}})
		default:
			t.Errorf("unexpected query: %s", query)
		}
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	defer c.Close()

	var bracketDone atomic.Int32
	tour, err := c.FetchTournament(context.Background(), "demo",
		WithBracketComplete(func(eventSlug, bracket string, matches int) {
			bracketDone.Add(1)
			assert.Equal(t, "singles", eventSlug)
			assert.Equal(t, "Pools - A1", bracket)
			assert.Equal(t, 6, matches)
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, "42", tour.ID)
	assert.Equal(t, "Demo Open", tour.Name)
	require.Len(t, tour.Events, 1)

	ev := tour.Events[0]
	require.Len(t, ev.Brackets, 1)
	assert.Equal(t, "Pools - A1", ev.Brackets[0].Name)
	require.Len(t, ev.Brackets[0].Matches, 6)

	first := ev.Brackets[0].Matches[0]
	assert.Equal(t, model.MatchCompleted, first.Status)
	assert.Equal(t, "Winners Round 1", first.Round)
	require.NotNil(t, first.Winner)
	assert.Equal(t, "Alpha", first.Winner.Tag)
	require.NotNil(t, first.Score)
	assert.Equal(t, 2, first.Score.P1)
	assert.Equal(t, 1, first.Score.P2)
	assert.Equal(t, completedAt, first.CompletedAt)

	// Round label falls back when fullRoundText is absent.
	live := ev.Brackets[0].Matches[5]
	assert.Equal(t, "Round 2", live.Round)
	assert.Equal(t, model.MatchInProgress, live.Status)
	require.NotNil(t, live.Player2)
	assert.True(t, live.Player2.Placeholder())

	// Alpha appears once despite five sets plus the entrant sample;
	// the placeholder never joins.
	tags := make([]string, 0, len(ev.Participants))
	for _, p := range ev.Participants {
		tags = append(tags, p.Tag)
	}
	assert.ElementsMatch(t, []string{"Alpha", "Beta"}, tags)

	// Only the live set is current.
	require.Len(t, ev.CurrentMatches, 1)
	assert.Equal(t, "set-live", ev.CurrentMatches[0].ID)

	assert.Equal(t, int32(1), bracketDone.Load())
}

func TestFetchTournament_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{"tournament": nil})
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	defer c.Close()

	_, err := c.FetchTournament(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchTournament_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		respond(t, w, map[string]any{"tournament": map[string]any{
			"id": 1, "name": "T", "slug": "t", "url": "", "events": []any{},
		}})
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.RetryBase = 5 * time.Millisecond
	c := New(cfg)
	defer c.Close()

	start := time.Now()
	_, err := c.FetchTournament(context.Background(), "t")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load(), "three 429s then success is four attempts")
	// Backoffs: 5 + 10 + 20 ms.
	assert.GreaterOrEqual(t, elapsed, 35*time.Millisecond)
}

func TestFetchTournament_RetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.MaxRetries = 2
	c := New(cfg)
	defer c.Close()

	_, err := c.FetchTournament(context.Background(), "t")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load(), "MaxRetries+1 attempts exactly")
}

func TestFetchTournament_AuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	defer c.Close()

	_, err := c.FetchTournament(context.Background(), "t")
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), calls.Load())
	assert.NotContains(t, err.Error(), "secret-token")
}

func singleEventTournament() map[string]any {
	return map[string]any{"tournament": map[string]any{
		"id": 1, "name": "T", "slug": "t", "url": "",
		"events": []any{map[string]any{
			"id": 100, "name": "Singles", "slug": "singles",
			"entrants": map[string]any{"nodes": []any{}},
		}},
	}}
}

func pageOfSets(n, offset int) []any {
	sets := make([]any, 0, n)
	for i := 0; i < n; i++ {
		sets = append(sets, map[string]any{
			"id": fmt.Sprintf("set-%d", offset+i), "round": 1, "state": 1,
			"slots": []any{
				slot(entrant(offset+i+1, fmt.Sprintf("P%d", offset+i+1)), nil),
				slot(entrant(offset+i+1000, fmt.Sprintf("Q%d", offset+i+1)), nil),
			},
		})
	}
	return sets
}

func TestPaginationTermination(t *testing.T) {
	// Phase group 7 holds 7 sets at PageSize 3: pages of 3, 3, 1.
	// Phase group 8 holds 2 sets: one short page.
	var setsCalls sync.Map
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, vars := decodeRequest(t, r)
		switch {
		case strings.Contains(query, "TournamentBySlug"):
			respond(t, w, singleEventTournament())
		case strings.Contains(query, "EventPhaseGroups"):
			respond(t, w, map[string]any{"event": map[string]any{
				"phaseGroups": []any{
					map[string]any{"id": 7, "displayIdentifier": "A1", "phase": map[string]any{"name": ""}},
					map[string]any{"id": 8, "displayIdentifier": "A2", "phase": map[string]any{"name": ""}},
				},
			}})
		case strings.Contains(query, "PhaseGroupSets"):
			pgID := vars["phaseGroupId"].(string)
			page := int(vars["page"].(float64))
			count, _ := setsCalls.LoadOrStore(pgID, new(atomic.Int32))
			count.(*atomic.Int32).Add(1)

			total := 7
			if pgID == "8" {
				total = 2
			}
			remaining := total - (page-1)*3
			if remaining > 3 {
				remaining = 3
			}
			if remaining < 0 {
				remaining = 0
			}
			respond(t, w, map[string]any{"phaseGroup": map[string]any{
				"sets": map[string]any{"nodes": pageOfSets(remaining, (page-1)*3)},
			}})
		}
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.PageSize = 3
	c := New(cfg)
	defer c.Close()

	tour, err := c.FetchTournament(context.Background(), "t")
	require.NoError(t, err)

	ev := tour.Events[0]
	require.Len(t, ev.Brackets, 2)
	assert.Len(t, ev.Brackets[0].Matches, 7)
	assert.Len(t, ev.Brackets[1].Matches, 2)

	// Bracket names without a phase name are just the identifier.
	assert.Equal(t, "A1", ev.Brackets[0].Name)

	calls7, _ := setsCalls.Load("7")
	calls8, _ := setsCalls.Load("8")
	assert.Equal(t, int32(3), calls7.(*atomic.Int32).Load(), "k*PAGE_SIZE+r sets take k+1 pages")
	assert.Equal(t, int32(1), calls8.(*atomic.Int32).Load(), "a short first page is fetched exactly once")
}

func TestPaginationPageCeiling(t *testing.T) {
	var setsCalls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, vars := decodeRequest(t, r)
		switch {
		case strings.Contains(query, "TournamentBySlug"):
			respond(t, w, singleEventTournament())
		case strings.Contains(query, "EventPhaseGroups"):
			respond(t, w, map[string]any{"event": map[string]any{
				"phaseGroups": []any{map[string]any{"id": 7, "displayIdentifier": "A1", "phase": map[string]any{"name": ""}}},
			}})
		case strings.Contains(query, "PhaseGroupSets"):
			setsCalls.Add(1)
			page := int(vars["page"].(float64))
			// Always a full page: only the ceiling can stop us.
			respond(t, w, map[string]any{"phaseGroup": map[string]any{
				"sets": map[string]any{"nodes": pageOfSets(3, (page-1)*3)},
			}})
		}
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.PageSize = 3
	cfg.PageLimit = 2
	c := New(cfg)
	defer c.Close()

	tour, err := c.FetchTournament(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, int32(2), setsCalls.Load())
	assert.Len(t, tour.Events[0].Brackets[0].Matches, 6)
}

func TestEventFailureDoesNotAbortSiblings(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, vars := decodeRequest(t, r)
		switch {
		case strings.Contains(query, "TournamentBySlug"):
			respond(t, w, map[string]any{"tournament": map[string]any{
				"id": 1, "name": "T", "slug": "t", "url": "",
				"events": []any{
					map[string]any{"id": 100, "name": "Broken", "slug": "broken",
						"entrants": map[string]any{"nodes": []any{}}},
					map[string]any{"id": 200, "name": "Fine", "slug": "fine",
						"entrants": map[string]any{"nodes": []any{}}},
				},
			}})
		case strings.Contains(query, "EventPhaseGroups"):
			if vars["eventId"] == "100" {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			respond(t, w, map[string]any{"event": map[string]any{
				"phaseGroups": []any{map[string]any{"id": 7, "displayIdentifier": "A1", "phase": map[string]any{"name": ""}}},
			}})
		case strings.Contains(query, "PhaseGroupSets"):
			respond(t, w, map[string]any{"phaseGroup": map[string]any{
				"sets": map[string]any{"nodes": pageOfSets(2, 0)},
			}})
		}
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	defer c.Close()

	tour, err := c.FetchTournament(context.Background(), "t")
	require.NoError(t, err, "a broken event must not fail the fetch")
	require.Len(t, tour.Events, 2)
	assert.Empty(t, tour.Events[0].Brackets)
	require.Len(t, tour.Events[1].Brackets, 1)
	assert.Len(t, tour.Events[1].Brackets[0].Matches, 2)
}

func TestDispatchPacing(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()

		query, _ := decodeRequest(t, r)
		switch {
		case strings.Contains(query, "TournamentBySlug"):
			respond(t, w, singleEventTournament())
		case strings.Contains(query, "EventPhaseGroups"):
			respond(t, w, map[string]any{"event": map[string]any{
				"phaseGroups": []any{map[string]any{"id": 7, "displayIdentifier": "A1", "phase": map[string]any{"name": ""}}},
			}})
		case strings.Contains(query, "PhaseGroupSets"):
			respond(t, w, map[string]any{"phaseGroup": map[string]any{
				"sets": map[string]any{"nodes": []any{}},
			}})
		}
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.MinInterval = 40 * time.Millisecond
	c := New(cfg)
	defer c.Close()

	_, err := c.FetchTournament(context.Background(), "t")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, 35*time.Millisecond, "dispatch %d arrived too soon", i)
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, _ := decodeRequest(t, r)
		switch {
		case strings.Contains(query, "TournamentBySlug"):
			respond(t, w, singleEventTournament())
		case strings.Contains(query, "EventPhaseGroups"):
			respond(t, w, map[string]any{"event": map[string]any{
				"phaseGroups": []any{map[string]any{"id": 7, "displayIdentifier": "A1", "phase": map[string]any{"name": ""}}},
			}})
		case strings.Contains(query, "PhaseGroupSets"):
			respond(t, w, map[string]any{"phaseGroup": map[string]any{
				"sets": map[string]any{"nodes": pageOfSets(1, 0)},
			}})
		}
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	defer c.Close()

	_, err := c.FetchTournament(context.Background(), "t",
		WithProgress(func(Progress) { panic("observer bug") }),
		WithBracketComplete(func(string, string, int) { panic("observer bug") }),
	)
	assert.NoError(t, err)
}

func TestCloseFailsQueuedCalls(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		respond(t, w, map[string]any{"tournament": nil})
	}))
	defer ts.Close()
	defer close(release)

	c := New(testConfig(ts.URL))

	// One call blocks in flight; the rest pile up behind it.
	const n = 5
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.FetchTournament(context.Background(), "t")
			errCh <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	c.Close()

	for i := 0; i < n; i++ {
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("caller still blocked after Close")
		}
	}
}

func TestQueuedRequestDiscardedOnCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{"tournament": nil})
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchTournament(ctx, "t")
	assert.ErrorIs(t, err, context.Canceled)
}
