// Package quiz defines the core domain types of the buzzer quiz: the game
// board, the active question, teams and buzz events, together with the pure
// state transitions the host applies to a Game.
package quiz

import "time"

// RowsPerCategory is the fixed number of questions in every category.
const RowsPerCategory = 5

// MaxCategories bounds the width of a board.
const MaxCategories = 6

// Game is the shared match record. Only the host mutates it.
type Game struct {
	ID             string          `json:"id"`
	HostID         string          `json:"hostId"`
	Started        bool            `json:"started"`
	Board          []Category      `json:"board"`
	ActiveQuestion *ActiveQuestion `json:"activeQuestion"`
	ShowAnswer     bool            `json:"showAnswer"`
	Revision       int64           `json:"revision"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type Category struct {
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

type Question struct {
	Value   int    `json:"value"`
	Prompt  string `json:"prompt"`
	Answer  string `json:"answer"`
	Used    bool   `json:"used"`
	IsBonus bool   `json:"isBonus"`
}

// ActiveQuestion is the question currently on screen. Prompt, answer and
// value are copied out of the board so that marking the cell used cannot
// change what is displayed.
type ActiveQuestion struct {
	CategoryIndex int         `json:"categoryIndex"`
	QuestionIndex int         `json:"questionIndex"`
	Prompt        string      `json:"prompt"`
	Answer        string      `json:"answer"`
	Value         int         `json:"value"`
	BuzzedTeam    *BuzzedTeam `json:"buzzedTeam"`
	BuzzerLocked  bool        `json:"buzzerLocked"`

	IsBonus         bool   `json:"isBonus"`
	Stake           int    `json:"stake"`
	StakingTeamID   string `json:"stakingTeamId,omitempty"`
	StakingTeamName string `json:"stakingTeamName,omitempty"`
	StakeConfirmed  bool   `json:"stakeConfirmed"`
}

// BuzzedTeam records the arbitration winner for the active question.
type BuzzedTeam struct {
	TeamID    string `json:"teamId"`
	TeamName  string `json:"teamName"`
	Timestamp int64  `json:"timestamp"`
}

type Team struct {
	ID          string    `json:"id"`
	GameID      string    `json:"gameId"`
	Name        string    `json:"name"`
	Score       int       `json:"score"`
	Connected   bool      `json:"connected"`
	SoundType   SoundType `json:"soundType"`
	CustomSound string    `json:"customSound,omitempty"`
	Ready       bool      `json:"ready"`
	Revision    int64     `json:"revision"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BuzzEvent is an append-only buzz attempt. Timestamp is the team's own
// clock and is never used for arbitration. ReceivedAt is assigned by the
// store and only orders rows of the same game.
type BuzzEvent struct {
	ID         string `json:"id"`
	GameID     string `json:"gameId"`
	TeamID     string `json:"teamId"`
	TeamName   string `json:"teamName"`
	Timestamp  int64  `json:"timestamp"`
	ReceivedAt int64  `json:"receivedAt"`
}

// Phase is derived from a Game's fields; it is never stored.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseBoard          Phase = "board"
	PhaseQuestionOpen   Phase = "question_open"
	PhaseBuzzedLocked   Phase = "buzzed_locked"
	PhaseAnswerRevealed Phase = "answer_revealed"
)

func (g *Game) Phase() Phase {
	switch {
	case !g.Started:
		return PhaseLobby
	case g.ActiveQuestion == nil:
		return PhaseBoard
	case g.ShowAnswer:
		return PhaseAnswerRevealed
	case g.ActiveQuestion.BuzzerLocked:
		return PhaseBuzzedLocked
	default:
		return PhaseQuestionOpen
	}
}

// Clone returns a deep copy so callers can mutate it without touching g.
func (g Game) Clone() Game {
	if g.Board != nil {
		board := make([]Category, len(g.Board))
		for i, c := range g.Board {
			board[i] = Category{Name: c.Name, Questions: append([]Question(nil), c.Questions...)}
		}
		g.Board = board
	}
	if g.ActiveQuestion != nil {
		aq := *g.ActiveQuestion
		if aq.BuzzedTeam != nil {
			bt := *aq.BuzzedTeam
			aq.BuzzedTeam = &bt
		}
		g.ActiveQuestion = &aq
	}
	return g
}

// Cell returns the board question at (c, q).
func (g *Game) Cell(c, q int) (*Question, error) {
	if c < 0 || c >= len(g.Board) {
		return nil, ErrNoSuchCell
	}
	if q < 0 || q >= len(g.Board[c].Questions) {
		return nil, ErrNoSuchCell
	}
	return &g.Board[c].Questions[q], nil
}
