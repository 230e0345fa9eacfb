package quiz

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"time"
)

// BonusCells is the number of cells flagged for staking on every board.
const BonusCells = 2

//go:embed questions.json
var defaultBank []byte

// Bank is the static question source a board is built from.
type Bank struct {
	Categories []BankCategory `json:"categories"`
}

type BankCategory struct {
	Name      string         `json:"name"`
	Questions []BankQuestion `json:"questions"`
}

type BankQuestion struct {
	Value    int    `json:"value"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// DefaultBank returns the embedded question bank.
func DefaultBank() (Bank, error) {
	return ParseBank(defaultBank)
}

// LoadBank reads a bank from path, or the embedded one when path is empty.
func LoadBank(path string) (Bank, error) {
	if path == "" {
		return DefaultBank()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Bank{}, fmt.Errorf("reading question bank: %w", err)
	}
	return ParseBank(data)
}

func ParseBank(data []byte) (Bank, error) {
	var b Bank
	if err := json.Unmarshal(data, &b); err != nil {
		return Bank{}, fmt.Errorf("decoding question bank: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Bank{}, err
	}
	return b, nil
}

func (b Bank) Validate() error {
	if len(b.Categories) == 0 || len(b.Categories) > MaxCategories {
		return ErrInvalidQuestionBank
	}
	for _, c := range b.Categories {
		if len(c.Questions) != RowsPerCategory {
			return fmt.Errorf("%w: category %q has %d questions", ErrInvalidQuestionBank, c.Name, len(c.Questions))
		}
	}
	return nil
}

// NewBoard copies the bank into fresh, unused cells and flags BonusCells
// of them as bonus questions.
func NewBoard(b Bank, rng *rand.Rand) []Category {
	board := make([]Category, len(b.Categories))
	for i, bc := range b.Categories {
		qs := make([]Question, len(bc.Questions))
		for j, bq := range bc.Questions {
			qs[j] = Question{Value: bq.Value, Prompt: bq.Question, Answer: bq.Answer}
		}
		board[i] = Category{Name: bc.Name, Questions: qs}
	}
	for _, cell := range PickBonusCells(len(board), RowsPerCategory, BonusCells, rng) {
		board[cell[0]].Questions[cell[1]].IsBonus = true
	}
	return board
}

// PickBonusCells draws n distinct (category, row) pairs by rejection
// sampling: random pairs are drawn and duplicates discarded until n
// distinct keys are collected.
func PickBonusCells(categories, rows, n int, rng *rand.Rand) [][2]int {
	if categories <= 0 || rows <= 0 {
		return nil
	}
	n = min(n, categories*rows)
	seen := make(map[string]struct{}, n)
	cells := make([][2]int, 0, n)
	for len(cells) < n {
		c, r := rng.IntN(categories), rng.IntN(rows)
		key := fmt.Sprintf("%d:%d", c, r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cells = append(cells, [2]int{c, r})
	}
	return cells
}

// NewGame builds a Lobby-state game from the bank.
func NewGame(id, hostID string, b Bank, rng *rand.Rand) Game {
	return Game{
		ID:        id,
		HostID:    hostID,
		Board:     NewBoard(b, rng),
		CreatedAt: time.Now().UTC(),
	}
}
