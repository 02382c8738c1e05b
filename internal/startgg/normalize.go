package startgg

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bracketlive/bracketd/internal/model"
)

// Upstream set state codes.
const (
	stateCreated   = 1
	stateActive    = 2
	stateCompleted = 3
)

func statusFromState(state int) model.MatchStatus {
	switch state {
	case stateActive:
		return model.MatchInProgress
	case stateCompleted:
		return model.MatchCompleted
	default:
		// stateCreated and anything unrecognized.
		return model.MatchPending
	}
}

func roundLabel(fullRoundText string, round int) string {
	if fullRoundText != "" {
		return fullRoundText
	}
	return fmt.Sprintf("Round %d", round)
}

// bracketName is "<phaseName> - <identifier>" when the phase is named,
// otherwise just the identifier.
func bracketName(pg wirePhaseGroup) string {
	if pg.Phase.Name != "" {
		return pg.Phase.Name + " - " + pg.DisplayIdentifier
	}
	return pg.DisplayIdentifier
}

// playerFromEntrant resolves a tag-first identity. An entrant with no
// usable id or tag gets a synthesized id and the placeholder tag; such
// players are served on matches but never join the participant set.
func playerFromEntrant(e *wireEntrant) *model.Player {
	if e == nil {
		return nil
	}
	p := &model.Player{EntrantID: e.ID.String()}
	if len(e.Participants) > 0 {
		p.ID = e.Participants[0].ID.String()
		p.Tag = e.Participants[0].GamerTag
		p.Name = e.Name
	}
	if p.Tag == "" {
		p.Tag = e.Name
	}
	if p.ID == "" {
		if e.ID != "" {
			p.ID = "entrant-" + e.ID.String()
		} else {
			p.ID = uuid.NewString()
		}
	}
	if p.Tag == "" {
		p.Tag = model.UnknownTag
	}
	return p
}

// scoreForSet extracts a score with the precedence: explicit slot scores,
// then per-game winner tallies, then a synthesized 1-0 for a completed set
// with a known winner. The 1-0 fallback can misrepresent best-of-many
// sets; product has been flagged.
func scoreForSet(s wireSet, p1, p2 *model.Player, winner *model.Player, status model.MatchStatus) *model.Score {
	if len(s.Slots) >= 2 {
		v1 := slotScore(s.Slots[0])
		v2 := slotScore(s.Slots[1])
		if v1 != nil && v2 != nil && *v1 >= 0 && *v2 >= 0 {
			return &model.Score{P1: *v1, P2: *v2}
		}
	}

	if len(s.Games) > 0 && p1 != nil && p2 != nil {
		var g1, g2 int
		for _, g := range s.Games {
			switch g.WinnerID.String() {
			case p1.EntrantID:
				g1++
			case p2.EntrantID:
				g2++
			}
		}
		if g1+g2 > 0 {
			return &model.Score{P1: g1, P2: g2}
		}
	}

	if status == model.MatchCompleted && winner != nil {
		if p1 != nil && winner.ID == p1.ID {
			return &model.Score{P1: 1, P2: 0}
		}
		if p2 != nil && winner.ID == p2.ID {
			return &model.Score{P1: 0, P2: 1}
		}
	}
	return nil
}

func slotScore(s wireSlot) *int {
	if s.Standing == nil || s.Standing.Stats.Score.Value == nil {
		return nil
	}
	v := int(*s.Standing.Stats.Score.Value)
	return &v
}

// matchFromSet converts one upstream set into a match bound to its bracket.
func matchFromSet(s wireSet, bracket string) *model.Match {
	var p1, p2 *model.Player
	if len(s.Slots) > 0 {
		p1 = playerFromEntrant(s.Slots[0].Entrant)
	}
	if len(s.Slots) > 1 {
		p2 = playerFromEntrant(s.Slots[1].Entrant)
	}

	status := statusFromState(s.State)

	var winner *model.Player
	if wid := s.WinnerID.String(); wid != "" {
		if p1 != nil && p1.EntrantID == wid {
			winner = p1
		} else if p2 != nil && p2.EntrantID == wid {
			winner = p2
		}
	}

	id := s.ID.String()
	if id == "" {
		id = uuid.NewString()
	}

	return &model.Match{
		ID:          id,
		Round:       roundLabel(s.FullRoundText, s.Round),
		Player1:     p1,
		Player2:     p2,
		Winner:      winner,
		Status:      status,
		BracketName: bracket,
		Score:       scoreForSet(s, p1, p2, winner, status),
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
