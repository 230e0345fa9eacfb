package team

import (
	"context"
	"time"

	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

// Buzz claims the active question. The local checks only save wasted
// writes; the host decides who actually won. The team learns the outcome
// from the next game update.
func (s *Session) Buzz(ctx context.Context) error {
	return s.do(ctx, s.buzz)
}

func (s *Session) ToggleReady(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.game.Started {
			return quiz.ErrAlreadyStarted
		}
		want := !s.team.Ready
		return s.mutate(ctx, func(t *quiz.Team) { t.Ready = want })
	})
}

// SetSound picks the buzzer sound. It can only change in the lobby.
func (s *Session) SetSound(ctx context.Context, sound quiz.SoundType, custom string) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.game.Started {
			return quiz.ErrAlreadyStarted
		}
		if err := quiz.CheckSound(sound, custom); err != nil {
			return err
		}
		return s.mutate(ctx, func(t *quiz.Team) {
			t.SoundType = sound
			t.CustomSound = custom
		})
	})
}

// Attach records one more live socket for the team. The team is marked
// connected when its first socket opens.
func (s *Session) Attach(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		s.sockets++
		return s.setConnected(ctx, true)
	})
}

// Detach records a closed socket. The team is marked disconnected only
// when its last socket closes.
func (s *Session) Detach(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.sockets > 0 {
			s.sockets--
		}
		if s.sockets > 0 {
			return nil
		}
		return s.setConnected(ctx, false)
	})
}

func (s *Session) setConnected(ctx context.Context, connected bool) error {
	if s.team.Connected == connected {
		return nil
	}
	return s.mutate(ctx, func(t *quiz.Team) { t.Connected = connected })
}

func (s *Session) buzz(ctx context.Context) error {
	aq := s.game.ActiveQuestion
	switch {
	case !s.game.Started:
		return quiz.ErrNotStarted
	case aq == nil:
		return quiz.ErrNoActiveQuestion
	case aq.BuzzerLocked:
		return quiz.ErrBuzzerLocked
	case s.hasBuzzed:
		return quiz.ErrAlreadyBuzzed
	}

	s.hasBuzzed = true
	_, err := s.deps.Store.InsertBuzz(ctx, quiz.BuzzEvent{
		GameID:    s.gameID,
		TeamID:    s.teamID,
		TeamName:  s.team.Name,
		Timestamp: time.Now().UnixMilli(),
	})
	return err
}

// mutate applies fn to the mirror at once and then to the stored row.
func (s *Session) mutate(ctx context.Context, fn func(*quiz.Team)) error {
	next := s.team
	fn(&next)
	s.team = next

	updated, err := s.deps.Store.UpdateTeam(ctx, s.teamID, func(t *quiz.Team) error {
		fn(t)
		return nil
	})
	if err != nil {
		return err
	}
	s.applyTeam(updated)
	return nil
}
