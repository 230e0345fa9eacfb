package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

// StakeSelection is a bonus cell the host picked that is waiting for a
// team and stake. It lives only in the host session.
type StakeSelection struct {
	CategoryIndex int    `json:"categoryIndex"`
	QuestionIndex int    `json:"questionIndex"`
	Category      string `json:"category"`
	Value         int    `json:"value"`
}

func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, s.start)
}

func (s *Session) Select(ctx context.Context, c, q int) error {
	return s.do(ctx, func(ctx context.Context) error { return s.selectQuestion(ctx, c, q) })
}

func (s *Session) Reveal(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error { return s.mutate(ctx, (*quiz.Game).Reveal) })
}

func (s *Session) ResetBuzzer(ctx context.Context) error {
	return s.do(ctx, s.resetBuzzer)
}

func (s *Session) Award(ctx context.Context, teamID string, delta int) error {
	return s.do(ctx, func(ctx context.Context) error { return s.award(ctx, teamID, delta) })
}

// CloseQuestion clears the active question, marking its cell used when
// markUsed is set. A staked bonus question is always marked used.
func (s *Session) CloseQuestion(ctx context.Context, markUsed bool) error {
	return s.do(ctx, func(ctx context.Context) error { return s.closeQuestion(ctx, markUsed) })
}

func (s *Session) ConfirmStake(ctx context.Context, teamID string, stake int) error {
	return s.do(ctx, func(ctx context.Context) error { return s.confirmStake(ctx, teamID, stake) })
}

func (s *Session) CancelStaking(ctx context.Context) error {
	return s.do(ctx, func(context.Context) error {
		s.stake = nil
		return nil
	})
}

func (s *Session) ResolveBonus(ctx context.Context, correct bool) error {
	return s.do(ctx, func(ctx context.Context) error { return s.resolveBonus(ctx, correct) })
}

// End deletes the game with all its teams and buzzes and stops the
// session.
func (s *Session) End(ctx context.Context) error {
	return s.do(ctx, s.end)
}

// start reads the teams fresh so that a stale ready flag in the mirror
// can never let the game start.
func (s *Session) start(ctx context.Context) error {
	teams, err := s.deps.Store.Teams(ctx, s.gameID)
	if err != nil {
		return err
	}
	for _, t := range teams {
		s.upsertTeam(t)
	}
	return s.mutate(ctx, func(g *quiz.Game) error { return g.Start(teams) })
}

func (s *Session) selectQuestion(ctx context.Context, c, q int) error {
	if s.stake != nil {
		return quiz.ErrStakingPending
	}
	cell, err := s.game.CheckSelectable(c, q)
	if err != nil {
		return err
	}
	if cell.IsBonus {
		s.stake = &StakeSelection{
			CategoryIndex: c,
			QuestionIndex: q,
			Category:      s.game.Board[c].Name,
			Value:         cell.Value,
		}
		return nil
	}

	if err := s.deps.Store.DeleteBuzzes(ctx, s.gameID); err != nil {
		return err
	}
	return s.mutate(ctx, func(g *quiz.Game) error { return g.Open(c, q) })
}

func (s *Session) resetBuzzer(ctx context.Context) error {
	check := s.game.Clone()
	if err := check.ResetBuzzer(); err != nil {
		return err
	}
	if err := s.deps.Store.DeleteBuzzes(ctx, s.gameID); err != nil {
		return err
	}
	return s.mutate(ctx, (*quiz.Game).ResetBuzzer)
}

func (s *Session) award(ctx context.Context, teamID string, delta int) error {
	t, err := s.deps.Store.UpdateTeam(ctx, teamID, func(t *quiz.Team) error {
		if t.GameID != s.gameID {
			return quiz.ErrNotFound
		}
		t.Score += delta
		return nil
	})
	if err != nil {
		return err
	}
	s.upsertTeam(t)
	return nil
}

// closeQuestion is a no-op when nothing is active, so a repeated close
// neither fails nor touches the board twice.
func (s *Session) closeQuestion(ctx context.Context, markUsed bool) error {
	if s.game.ActiveQuestion == nil {
		return nil
	}
	err := s.mutate(ctx, func(g *quiz.Game) error {
		g.Close(markUsed)
		return nil
	})
	if err != nil {
		return err
	}
	return s.deps.Store.DeleteBuzzes(ctx, s.gameID)
}

// confirmStake validates the stake against the team's stored score, not
// the mirror, then opens the bonus question locked for that team alone.
func (s *Session) confirmStake(ctx context.Context, teamID string, stake int) error {
	sel := s.stake
	if sel == nil {
		return quiz.ErrNoStakingPending
	}
	team, err := s.deps.Store.Team(ctx, teamID)
	if err != nil {
		return err
	}
	if team.GameID != s.gameID {
		return quiz.ErrNotFound
	}
	s.upsertTeam(team)
	if err := quiz.CheckStake(team.Score, stake); err != nil {
		return err
	}

	if err := s.deps.Store.DeleteBuzzes(ctx, s.gameID); err != nil {
		return err
	}
	err = s.mutate(ctx, func(g *quiz.Game) error {
		return g.OpenStaked(sel.CategoryIndex, sel.QuestionIndex, team, stake)
	})
	if err != nil {
		return err
	}
	s.stake = nil
	return nil
}

// resolveBonus closes the bonus question as used, then scores the staking
// team by its stake. The stake is applied only after the close is stored,
// so a retried resolution cannot score it twice.
func (s *Session) resolveBonus(ctx context.Context, correct bool) error {
	aq := s.game.ActiveQuestion
	if aq == nil || !aq.IsBonus || !aq.StakeConfirmed {
		return quiz.ErrNotBonusQuestion
	}
	teamID, delta := aq.StakingTeamID, aq.Stake
	if !correct {
		delta = -delta
	}
	err := s.mutate(ctx, func(g *quiz.Game) error {
		g.Close(true)
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.award(ctx, teamID, delta); err != nil {
		return fmt.Errorf("bonus closed without applying stake %d: %w", delta, err)
	}
	return s.deps.Store.DeleteBuzzes(ctx, s.gameID)
}

func (s *Session) end(ctx context.Context) error {
	err := s.deps.Store.DeleteGame(ctx, s.gameID)
	if err != nil && !errors.Is(err, quiz.ErrNotFound) {
		return err
	}
	s.ended = true
	return nil
}
