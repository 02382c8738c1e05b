package model

// MatchStatus is the normalized lifecycle state of a set.
type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
)

// UnknownTag is the placeholder tag assigned to entrants whose identity
// could not be resolved from the upstream payload. Players carrying it are
// never added to an event's participant list.
const UnknownTag = "Unknown Player"

// Tournament is the root aggregate served to clients. Once stored in a
// cache it is treated as immutable; refreshes replace the whole value.
type Tournament struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Slug   string   `json:"slug"`
	URL    string   `json:"url"`
	Events []*Event `json:"events"`
}

// Event is one competition within a tournament.
type Event struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Slug           string     `json:"slug"`
	Brackets       []*Bracket `json:"brackets"`
	Participants   []Player   `json:"participants"`
	CurrentMatches []*Match   `json:"currentMatches"`
}

// Bracket is a phase group. Name is "<phaseName> - <identifier>" when the
// phase has a name, otherwise just the identifier.
type Bracket struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Matches []*Match `json:"matches"`
}

// Match is a single set between two entrants.
type Match struct {
	ID          string      `json:"id"`
	Round       string      `json:"round"`
	Player1     *Player     `json:"player1,omitempty"`
	Player2     *Player     `json:"player2,omitempty"`
	Winner      *Player     `json:"winner,omitempty"`
	Status      MatchStatus `json:"status"`
	BracketName string      `json:"bracketName"`
	Score       *Score      `json:"score,omitempty"`
	StartedAt   int64       `json:"startedAt,omitempty"`
	CompletedAt int64       `json:"completedAt,omitempty"`
	UpdatedAt   int64       `json:"updatedAt,omitempty"`
}

// Score is the game count for each slot of a set.
type Score struct {
	P1 int `json:"p1"`
	P2 int `json:"p2"`
}

// Player is a tag-first identity. EntrantID carries the upstream entrant id
// when one was present.
type Player struct {
	ID        string `json:"id"`
	Tag       string `json:"tag"`
	Name      string `json:"name,omitempty"`
	EntrantID string `json:"entrantId,omitempty"`
}

// Placeholder reports whether the player was synthesized for an
// unidentifiable entrant.
func (p Player) Placeholder() bool {
	return p.Tag == UnknownTag
}
