package host

import (
	"context"
	"slices"

	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

// Screen is what the host display shows.
type Screen string

const (
	ScreenLobby    Screen = "lobby"
	ScreenBoard    Screen = "board"
	ScreenQuestion Screen = "question"
	ScreenStaking  Screen = "staking"
)

type View struct {
	Screen   Screen          `json:"screen"`
	Phase    quiz.Phase      `json:"phase"`
	Game     quiz.Game       `json:"game"`
	Teams    []quiz.Team     `json:"teams"`
	CanStart bool            `json:"canStart"`
	Staking  *StakeSelection `json:"staking,omitempty"`
	// MaxStakes holds each team's stake ceiling while staking is pending.
	MaxStakes map[string]int `json:"maxStakes,omitempty"`
}

// View returns a copy of the host's current mirror.
func (s *Session) View(ctx context.Context) (View, error) {
	var v View
	err := s.do(ctx, func(context.Context) error {
		v = s.view()
		return nil
	})
	return v, err
}

func (s *Session) view() View {
	v := View{
		Phase:    s.game.Phase(),
		Game:     s.game.Clone(),
		Teams:    slices.Clone(s.teams),
		CanStart: !s.game.Started && quiz.AllReady(s.teams),
	}
	switch {
	case s.stake != nil:
		sel := *s.stake
		v.Screen = ScreenStaking
		v.Staking = &sel
		v.MaxStakes = make(map[string]int, len(s.teams))
		for _, t := range s.teams {
			v.MaxStakes[t.ID] = quiz.MaxStake(t.Score)
		}
	case !s.game.Started:
		v.Screen = ScreenLobby
	case s.game.ActiveQuestion != nil:
		v.Screen = ScreenQuestion
	default:
		v.Screen = ScreenBoard
	}
	return v
}
