// Package ttl derives cache lifetimes from tournament liveness. The policy
// inspects only events[*].currentMatches: freshness of matches outside that
// set is deliberately not part of the contract.
package ttl

import (
	"time"

	"github.com/bracketlive/bracketd/internal/model"
)

const (
	// Live sets change every few seconds during a broadcast.
	Live = 15 * time.Second
	// Recent covers the window right after a set completes, when scores
	// and standings are still settling.
	Recent = 120 * time.Second
	// Pending tournaments move slowly until something starts.
	Pending = 600 * time.Second
	// Idle is the floor for tournaments with nothing scheduled.
	Idle = 1800 * time.Second

	// RecentWindow is how long after completion a match still counts as
	// recently completed.
	RecentWindow = 300 * time.Second
)

// Counts tallies the current matches feeding the decision.
func Counts(t *model.Tournament, now time.Time) model.MatchCounts {
	var c model.MatchCounts
	if t == nil {
		return c
	}
	for _, ev := range t.Events {
		for _, m := range ev.CurrentMatches {
			switch m.Status {
			case model.MatchInProgress:
				c.Ongoing++
			case model.MatchPending:
				c.Pending++
			case model.MatchCompleted:
				completed := time.Unix(m.CompletedAt, 0)
				if m.CompletedAt > 0 && now.Sub(completed) < RecentWindow {
					c.RecentlyCompleted++
				} else {
					c.OldCompleted++
				}
			}
		}
	}
	return c
}

// ForTournament returns the TTL for a freshly fetched tournament along with
// the counts that drove the choice. Rows are evaluated in order; the first
// hit wins.
func ForTournament(t *model.Tournament, now time.Time) (time.Duration, model.MatchCounts) {
	c := Counts(t, now)
	switch {
	case c.Ongoing > 0:
		return Live, c
	case c.RecentlyCompleted > 0:
		return Recent, c
	case c.Pending > 0:
		return Pending, c
	default:
		return Idle, c
	}
}

// MetadataFor fills response metadata from a tournament's current matches.
func MetadataFor(t *model.Tournament, now time.Time) model.ResponseMetadata {
	c := Counts(t, now)
	return model.ResponseMetadata{
		HasOngoingMatches: c.Ongoing > 0,
		HasRecentMatches:  c.RecentlyCompleted > 0,
		Counts:            c,
	}
}
