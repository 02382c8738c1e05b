package model

import "time"

// MatchCounts summarizes the current matches feeding the TTL decision.
type MatchCounts struct {
	Ongoing           int `json:"ongoing"`
	RecentlyCompleted int `json:"recentlyCompleted"`
	Pending           int `json:"pending"`
	OldCompleted      int `json:"oldCompleted"`
}

// ResponseMetadata describes the cache state of a served tournament.
// CachedAt and TTL are absent when the cache layer faulted on write.
type ResponseMetadata struct {
	CachedAt          *time.Time  `json:"cachedAt,omitempty"`
	TTL               *int64      `json:"ttl,omitempty"`
	HasOngoingMatches bool        `json:"hasOngoingMatches"`
	HasRecentMatches  bool        `json:"hasRecentMatches"`
	Counts            MatchCounts `json:"counts"`
}

// TournamentResponse is the wire envelope for tournament reads.
type TournamentResponse struct {
	Data     *Tournament      `json:"data"`
	Cached   bool             `json:"cached"`
	Metadata ResponseMetadata `json:"metadata"`
}
