// Package feed carries change notifications from the store to every client
// watching a game. Delivery is best effort: a notification may be dropped,
// so clients also poll.
package feed

import (
	"context"
	"sync"

	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

type Relation string

const (
	RelationGame Relation = "game"
	RelationTeam Relation = "team"
	RelationBuzz Relation = "buzz"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one committed write. The record carries the row as it
// is after the write; deletes carry only keys. A buzz delete is the bulk
// delete of every buzz of the game.
type Change struct {
	Relation Relation        `json:"relation"`
	Op       Op              `json:"op"`
	GameID   string          `json:"gameId"`
	TeamID   string          `json:"teamId,omitempty"`
	Game     *quiz.Game      `json:"game,omitempty"`
	Team     *quiz.Team      `json:"team,omitempty"`
	Buzz     *quiz.BuzzEvent `json:"buzz,omitempty"`
}

// Feed fans changes out to subscribers of a game.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, gameID string) (*Subscription, error)
}

// Subscription is one subscriber's stream. C is closed after Close.
type Subscription struct {
	C <-chan Change

	once   sync.Once
	cancel func()
}

func newSubscription(c <-chan Change, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Close detaches the subscription. It is safe to call more than once;
// notifications still in flight are dropped.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
