package startgg

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Page size 30 keeps the estimated object count per sets response near 690,
// comfortably under the upstream 1000-object ceiling.

const tournamentQuery = `
query TournamentBySlug($slug: String!, $eventLimit: Int!, $entrantPage: Int!) {
  tournament(slug: $slug) {
    id
    name
    slug
    url
    events(limit: $eventLimit) {
      id
      name
      slug
      entrants(query: { page: 1, perPage: $entrantPage }) {
        nodes {
          id
          name
          participants { id gamerTag }
        }
      }
    }
  }
}`

const phaseGroupsQuery = `
query EventPhaseGroups($eventId: ID!) {
  event(id: $eventId) {
    phaseGroups {
      id
      displayIdentifier
      phase { name }
    }
  }
}`

const setsQuery = `
query PhaseGroupSets($phaseGroupId: ID!, $page: Int!, $perPage: Int!) {
  phaseGroup(id: $phaseGroupId) {
    sets(page: $page, perPage: $perPage, sortType: STANDARD) {
      nodes {
        id
        round
        fullRoundText
        state
        winnerId
        startedAt
        completedAt
        updatedAt
        slots {
          entrant {
            id
            name
            participants { id gamerTag }
          }
          standing { stats { score { value } } }
        }
        games { winnerId }
      }
    }
  }
}`

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

// flexID accepts upstream ids whether they arrive as JSON numbers or
// strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

type tournamentData struct {
	Tournament *wireTournament `json:"tournament"`
}

type wireTournament struct {
	ID     flexID      `json:"id"`
	Name   string      `json:"name"`
	Slug   string      `json:"slug"`
	URL    string      `json:"url"`
	Events []wireEvent `json:"events"`
}

type wireEvent struct {
	ID       flexID `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Entrants struct {
		Nodes []wireEntrant `json:"nodes"`
	} `json:"entrants"`
}

type wireEntrant struct {
	ID           flexID `json:"id"`
	Name         string `json:"name"`
	Participants []struct {
		ID       flexID `json:"id"`
		GamerTag string `json:"gamerTag"`
	} `json:"participants"`
}

type phaseGroupsData struct {
	Event *struct {
		PhaseGroups []wirePhaseGroup `json:"phaseGroups"`
	} `json:"event"`
}

type wirePhaseGroup struct {
	ID                flexID `json:"id"`
	DisplayIdentifier string `json:"displayIdentifier"`
	Phase             struct {
		Name string `json:"name"`
	} `json:"phase"`
}

type setsData struct {
	PhaseGroup *struct {
		Sets struct {
			Nodes []wireSet `json:"nodes"`
		} `json:"sets"`
	} `json:"phaseGroup"`
}

type wireSet struct {
	ID            flexID     `json:"id"`
	Round         int        `json:"round"`
	FullRoundText string     `json:"fullRoundText"`
	State         int        `json:"state"`
	WinnerID      flexID     `json:"winnerId"`
	StartedAt     int64      `json:"startedAt"`
	CompletedAt   int64      `json:"completedAt"`
	UpdatedAt     int64      `json:"updatedAt"`
	Slots         []wireSlot `json:"slots"`
	Games         []struct {
		WinnerID flexID `json:"winnerId"`
	} `json:"games"`
}

type wireSlot struct {
	Entrant  *wireEntrant `json:"entrant"`
	Standing *struct {
		Stats struct {
			Score struct {
				Value *float64 `json:"value"`
			} `json:"score"`
		} `json:"stats"`
	} `json:"standing"`
}
