package team

import (
	"context"

	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

// Screen is what the team's device shows.
type Screen string

const (
	ScreenWaitingRoom Screen = "waiting_room"
	ScreenWatching    Screen = "watching"
	ScreenBuzzing     Screen = "buzzing"
)

// Question is the active question as a team sees it. The answer stays
// empty until the host reveals it.
type Question struct {
	Value           int              `json:"value"`
	Prompt          string           `json:"prompt"`
	Answer          string           `json:"answer,omitempty"`
	BuzzerLocked    bool             `json:"buzzerLocked"`
	BuzzedTeam      *quiz.BuzzedTeam `json:"buzzedTeam"`
	IsBonus         bool             `json:"isBonus"`
	Stake           int              `json:"stake,omitempty"`
	StakingTeamName string           `json:"stakingTeamName,omitempty"`
}

type View struct {
	Screen    Screen    `json:"screen"`
	GameID    string    `json:"gameId"`
	Team      quiz.Team `json:"team"`
	Question  *Question `json:"question"`
	HasBuzzed bool      `json:"hasBuzzed"`
	CanBuzz   bool      `json:"canBuzz"`
	// Won is set when this team holds the buzzer.
	Won bool `json:"won"`
}

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
		GameID:    s.gameID,
		Team:      s.team,
		HasBuzzed: s.hasBuzzed,
	}
	aq := s.game.ActiveQuestion
	switch {
	case !s.game.Started:
		v.Screen = ScreenWaitingRoom
		return v
	case aq == nil:
		v.Screen = ScreenWatching
		return v
	}

	v.Screen = ScreenBuzzing
	v.Question = &Question{
		Value:           aq.Value,
		Prompt:          aq.Prompt,
		BuzzerLocked:    aq.BuzzerLocked,
		IsBonus:         aq.IsBonus,
		Stake:           aq.Stake,
		StakingTeamName: aq.StakingTeamName,
	}
	if s.game.ShowAnswer {
		v.Question.Answer = aq.Answer
	}
	if aq.BuzzedTeam != nil {
		bt := *aq.BuzzedTeam
		v.Question.BuzzedTeam = &bt
		v.Won = bt.TeamID == s.teamID
	}
	v.CanBuzz = !aq.BuzzerLocked && !s.hasBuzzed
	return v
}
