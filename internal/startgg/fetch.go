package startgg

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/bracketlive/bracketd/internal/model"
)

// Progress describes one completed page of upstream work.
type Progress struct {
	EventSlug string
	Bracket   string
	Page      int
	Matches   int
}

// ProgressFunc observes fetch progress. BracketFunc fires once per fully
// loaded phase group. Callbacks run on the fetching goroutine; panics are
// swallowed so observers can never take the fetch down.
type (
	ProgressFunc func(Progress)
	BracketFunc  func(eventSlug, bracket string, matches int)
)

type fetchOptions struct {
	onProgress ProgressFunc
	onBracket  BracketFunc
}

// FetchOption customizes a single FetchTournament call.
type FetchOption func(*fetchOptions)

func WithProgress(fn ProgressFunc) FetchOption {
	return func(o *fetchOptions) { o.onProgress = fn }
}

func WithBracketComplete(fn BracketFunc) FetchOption {
	return func(o *fetchOptions) { o.onBracket = fn }
}

func safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("fetch callback panicked")
		}
	}()
	fn()
}

// FetchTournament materializes a tournament in two tiers: one request for
// identity plus events, then per event one phase-group enumeration and a
// paginated set loop per phase group. A failed event is skipped; a failed
// page ends that phase group. The result is internally consistent even
// when partial.
func (c *Client) FetchTournament(ctx context.Context, slug string, opts ...FetchOption) (*model.Tournament, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	var root tournamentData
	err := c.do(ctx, tournamentQuery, map[string]any{
		"slug":        slug,
		"eventLimit":  c.cfg.EventLimit,
		"entrantPage": c.cfg.EntrantSample,
	}, &root)
	if err != nil {
		return nil, err
	}
	if root.Tournament == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, slug)
	}

	t := &model.Tournament{
		ID:     root.Tournament.ID.String(),
		Name:   root.Tournament.Name,
		Slug:   root.Tournament.Slug,
		URL:    root.Tournament.URL,
		Events: make([]*model.Event, 0, len(root.Tournament.Events)),
	}

	for _, we := range root.Tournament.Events {
		ev := &model.Event{
			ID:             we.ID.String(),
			Name:           we.Name,
			Slug:           we.Slug,
			Brackets:       []*model.Bracket{},
			Participants:   []model.Player{},
			CurrentMatches: []*model.Match{},
		}
		seedParticipants(ev, we.Entrants.Nodes)
		t.Events = append(t.Events, ev)

		if err := c.loadEvent(ctx, ev, &o); err != nil {
			// A broken event must not abort its siblings.
			log.Warn().Err(err).Str("event", ev.Slug).Msg("event load failed, continuing")
		}
	}

	return t, nil
}

func (c *Client) loadEvent(ctx context.Context, ev *model.Event, o *fetchOptions) error {
	var pgs phaseGroupsData
	err := c.do(ctx, phaseGroupsQuery, map[string]any{"eventId": ev.ID}, &pgs)
	if err != nil {
		return fmt.Errorf("phase groups: %w", err)
	}
	if pgs.Event == nil {
		return nil
	}

	for _, pg := range pgs.Event.PhaseGroups {
		name := bracketName(pg)
		bracket := &model.Bracket{
			ID:      pg.ID.String(),
			Name:    name,
			Matches: []*model.Match{},
		}
		ev.Brackets = append(ev.Brackets, bracket)

		matches := c.loadPhaseGroupSets(ctx, ev, pg, name, o)
		bracket.Matches = matches
		c.absorbMatches(ev, matches)

		if o.onBracket != nil {
			safeInvoke(func() { o.onBracket(ev.Slug, name, len(matches)) })
		}
	}
	return nil
}

// loadPhaseGroupSets pages through a phase group. Pagination stops on a
// short page, the page ceiling, or a failed page (treated as end-of-pages).
func (c *Client) loadPhaseGroupSets(ctx context.Context, ev *model.Event, pg wirePhaseGroup, bracket string, o *fetchOptions) []*model.Match {
	matches := make([]*model.Match, 0, c.cfg.PageSize)
	for page := 1; page <= c.cfg.PageLimit; page++ {
		var data setsData
		err := c.do(ctx, setsQuery, map[string]any{
			"phaseGroupId": pg.ID.String(),
			"page":         page,
			"perPage":      c.cfg.PageSize,
		}, &data)
		if err != nil {
			log.Warn().Err(err).Str("bracket", bracket).Int("page", page).Msg("set page load failed, ending phase group")
			break
		}
		if data.PhaseGroup == nil {
			break
		}

		nodes := data.PhaseGroup.Sets.Nodes
		for _, s := range nodes {
			matches = append(matches, matchFromSet(s, bracket))
		}

		if o.onProgress != nil {
			update := Progress{EventSlug: ev.Slug, Bracket: bracket, Page: page, Matches: len(matches)}
			safeInvoke(func() { o.onProgress(update) })
		}

		if len(nodes) < c.cfg.PageSize {
			break
		}
	}
	return matches
}

// absorbMatches unions newly discovered players into the participant set
// and appends live or pending matches to the event's current set, both
// deduplicated by id.
func (c *Client) absorbMatches(ev *model.Event, matches []*model.Match) {
	seenPlayers := make(map[string]struct{}, len(ev.Participants))
	for _, p := range ev.Participants {
		seenPlayers[p.ID] = struct{}{}
	}
	seenMatches := make(map[string]struct{}, len(ev.CurrentMatches))
	for _, m := range ev.CurrentMatches {
		seenMatches[m.ID] = struct{}{}
	}

	addPlayer := func(p *model.Player) {
		if p == nil || p.Placeholder() {
			return
		}
		if _, ok := seenPlayers[p.ID]; ok {
			return
		}
		seenPlayers[p.ID] = struct{}{}
		ev.Participants = append(ev.Participants, *p)
	}

	for _, m := range matches {
		addPlayer(m.Player1)
		addPlayer(m.Player2)
		if m.Status == model.MatchPending || m.Status == model.MatchInProgress {
			if _, ok := seenMatches[m.ID]; !ok {
				seenMatches[m.ID] = struct{}{}
				ev.CurrentMatches = append(ev.CurrentMatches, m)
			}
		}
	}
}

func seedParticipants(ev *model.Event, entrants []wireEntrant) {
	seen := make(map[string]struct{}, len(entrants))
	for i := range entrants {
		p := playerFromEntrant(&entrants[i])
		if p == nil || p.Placeholder() {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		ev.Participants = append(ev.Participants, *p)
	}
}
