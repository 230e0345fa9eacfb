package host

import (
	"context"
	"errors"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/reconcile"
)

func (s *Session) handle(ctx context.Context, ev reconcile.Event[snapshot]) {
	switch {
	case ev.Err != nil:
		if errors.Is(ev.Err, quiz.ErrNotFound) {
			s.ended = true
			return
		}
		s.deps.Logger.Warn("polling game", "game_id", s.gameID, "error", ev.Err)
	case ev.Change != nil:
		s.applyChange(ctx, *ev.Change)
	case ev.Snapshot != nil:
		s.applySnapshot(ctx, *ev.Snapshot)
	}
}

func (s *Session) applyChange(ctx context.Context, c feed.Change) {
	switch c.Relation {
	case feed.RelationGame:
		if c.Op == feed.OpDelete {
			s.ended = true
			return
		}
		if c.Game != nil {
			// Notifications are shared between subscribers.
			incoming := c.Game.Clone()
			reconcile.Replace(&s.game, incoming, s.game.Revision, incoming.Revision)
		}
	case feed.RelationTeam:
		if c.Team != nil {
			s.upsertTeam(*c.Team)
		}
	case feed.RelationBuzz:
		if c.Op == feed.OpInsert && c.Buzz != nil {
			s.arbitrate(ctx, *c.Buzz)
		}
	}
}

func (s *Session) applySnapshot(ctx context.Context, snap snapshot) {
	reconcile.Replace(&s.game, snap.Game, s.game.Revision, snap.Game.Revision)
	for _, t := range snap.Teams {
		s.upsertTeam(t)
	}

	// A buzz whose insert notification was dropped shows up here. The rows
	// are only trusted when they were read alongside the revision the
	// mirror holds; rows next to an older game may belong to an earlier
	// question.
	if len(snap.Buzzes) > 0 && snap.Game.Revision == s.game.Revision {
		s.arbitrate(ctx, snap.Buzzes[0])
	}
}

func (s *Session) upsertTeam(t quiz.Team) {
	for i := range s.teams {
		if s.teams[i].ID == t.ID {
			reconcile.Replace(&s.teams[i], t, s.teams[i].Revision, t.Revision)
			return
		}
	}
	s.teams = append(s.teams, t)
}

// arbitrate makes b the winner of the active question if nobody has won
// it yet. The first buzz the host observes wins; the team's clock plays no
// part. Once the mirror is locked every later buzz is ignored until the
// buzzer is reset.
func (s *Session) arbitrate(ctx context.Context, b quiz.BuzzEvent) {
	aq := s.game.ActiveQuestion
	if b.GameID != s.gameID || aq == nil || aq.IsBonus || aq.BuzzerLocked {
		return
	}

	winner := quiz.BuzzedTeam{TeamID: b.TeamID, TeamName: b.TeamName, Timestamp: b.Timestamp}
	err := s.mutate(ctx, func(g *quiz.Game) error { return g.LockBuzzer(winner) })
	if err != nil {
		s.deps.Logger.Warn("locking buzzer",
			"game_id", s.gameID,
			"team_id", b.TeamID,
			"error", err,
		)
		return
	}
	s.deps.Logger.Info("buzz arbitrated",
		"game_id", s.gameID,
		"team_id", b.TeamID,
		"team_name", b.TeamName,
	)
}

// mutate applies fn to the mirror first and then to the stored game. A
// failed write leaves the optimistic mirror in place until the next
// notification or poll overwrites it.
func (s *Session) mutate(ctx context.Context, fn func(*quiz.Game) error) error {
	next := s.game.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.game = next

	updated, err := s.deps.Store.UpdateGame(ctx, s.gameID, fn)
	if err != nil {
		return err
	}
	reconcile.Replace(&s.game, updated, s.game.Revision, updated.Revision)
	return nil
}
