// Package store persists games, teams and buzz events and announces every
// committed write on a change feed.
package store

import (
	"context"
	"log/slog"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

// Store is the shared record for all clients of a game. Lookups return
// quiz.ErrNotFound for missing rows; inserts that collide return
// quiz.ErrConflict. Update functions run against a private copy and their
// error aborts the write unchanged.
type Store interface {
	CreateGame(ctx context.Context, g quiz.Game) (quiz.Game, error)
	Game(ctx context.Context, id string) (quiz.Game, error)
	UpdateGame(ctx context.Context, id string, fn func(*quiz.Game) error) (quiz.Game, error)
	DeleteGame(ctx context.Context, id string) error

	InsertTeam(ctx context.Context, t quiz.Team) (quiz.Team, error)
	Team(ctx context.Context, id string) (quiz.Team, error)
	TeamByName(ctx context.Context, gameID, name string) (quiz.Team, error)
	Teams(ctx context.Context, gameID string) ([]quiz.Team, error)
	UpdateTeam(ctx context.Context, id string, fn func(*quiz.Team) error) (quiz.Team, error)

	InsertBuzz(ctx context.Context, b quiz.BuzzEvent) (quiz.BuzzEvent, error)
	Buzzes(ctx context.Context, gameID string) ([]quiz.BuzzEvent, error)
	DeleteBuzzes(ctx context.Context, gameID string) error

	Subscribe(ctx context.Context, gameID string) (*feed.Subscription, error)
}

// notifier publishes committed writes. Publication is best effort.
type notifier struct {
	feed   feed.Feed
	logger *slog.Logger
}

func (n notifier) publish(ctx context.Context, c feed.Change) {
	// The write has already committed; a cancelled request must not
	// suppress the notification.
	if err := n.feed.Publish(context.WithoutCancel(ctx), c); err != nil {
		n.logger.Warn("publishing change",
			"game_id", c.GameID,
			"relation", c.Relation,
			"op", c.Op,
			"error", err,
		)
	}
}

func (n notifier) Subscribe(ctx context.Context, gameID string) (*feed.Subscription, error) {
	return n.feed.Subscribe(ctx, gameID)
}

func gameChange(op feed.Op, g quiz.Game) feed.Change {
	return feed.Change{Relation: feed.RelationGame, Op: op, GameID: g.ID, Game: &g}
}

func teamChange(op feed.Op, t quiz.Team) feed.Change {
	return feed.Change{Relation: feed.RelationTeam, Op: op, GameID: t.GameID, TeamID: t.ID, Team: &t}
}
