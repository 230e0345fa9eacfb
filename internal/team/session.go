// Package team runs one team's client: it mirrors the game and the team's
// own row, and turns player actions into store writes.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/reconcile"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
)

type Deps struct {
	Store     store.Store
	Logger    *slog.Logger
	PollEvery time.Duration
}

type Session struct {
	deps   Deps
	teamID string
	gameID string

	calls  chan call
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the loop goroutine.
	game      quiz.Game
	team      quiz.Team
	hasBuzzed bool
	ended     bool
	sockets   int
}

type call struct {
	fn    func(ctx context.Context) error
	reply chan error
}

type snapshot struct {
	Game quiz.Game
	Team quiz.Team
}

// Join adds a team named name to the game with the given code. The name
// is checked for uniqueness before inserting; two teams racing with the
// same name may both pass the check, in which case the store's unique
// constraint rejects the loser with quiz.ErrConflict.
func Join(ctx context.Context, deps Deps, code, name string) (*Session, error) {
	code, err := quiz.NormalizeGameCode(code)
	if err != nil {
		return nil, err
	}
	name, err = quiz.NormalizeTeamName(name)
	if err != nil {
		return nil, err
	}

	g, err := deps.Store.Game(ctx, code)
	if err != nil {
		return nil, err
	}

	_, err = deps.Store.TeamByName(ctx, code, name)
	switch {
	case err == nil:
		return nil, quiz.ErrConflict
	case !errors.Is(err, quiz.ErrNotFound):
		return nil, fmt.Errorf("checking team name: %w", err)
	}

	t, err := deps.Store.InsertTeam(ctx, quiz.NewTeam("", code, name))
	if err != nil {
		return nil, err
	}
	deps.Logger.Info("team joined", "game_id", code, "team_id", t.ID, "team_name", t.Name)
	return start(ctx, deps, g, t), nil
}

// Resume re-attaches to a team that joined earlier.
func Resume(ctx context.Context, deps Deps, teamID string) (*Session, error) {
	t, err := deps.Store.Team(ctx, teamID)
	if err != nil {
		return nil, err
	}
	g, err := deps.Store.Game(ctx, t.GameID)
	if err != nil {
		return nil, err
	}
	return start(ctx, deps, g, t), nil
}

func start(parent context.Context, deps Deps, g quiz.Game, t quiz.Team) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		deps:   deps,
		teamID: t.ID,
		gameID: g.ID,
		calls:  make(chan call),
		cancel: cancel,
		done:   make(chan struct{}),
		team:   t,
	}
	s.applyGame(g)

	sub, err := deps.Store.Subscribe(ctx, g.ID)
	if err != nil {
		deps.Logger.Warn("subscribing to game changes, polling only",
			"game_id", g.ID,
			"team_id", t.ID,
			"error", err,
		)
		sub = nil
	}

	go s.run(ctx, sub)
	return s
}

func (s *Session) TeamID() string { return s.teamID }
func (s *Session) GameID() string { return s.gameID }

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the session and waits for its subscription and poller to
// be torn down.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context, sub *feed.Subscription) {
	defer close(s.done)
	if sub != nil {
		defer sub.Close()
	}

	events := make(chan reconcile.Event[snapshot], 16)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reconcile.Run(gctx, sub, s.poll, s.deps.PollEvery, events)
	})
	g.Go(func() error {
		defer s.cancel()
		s.loop(gctx, events)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.deps.Logger.Error("team session", "team_id", s.teamID, "error", err)
	}
}

func (s *Session) loop(ctx context.Context, events <-chan reconcile.Event[snapshot]) {
	for !s.ended {
		select {
		case <-ctx.Done():
			return
		case c := <-s.calls:
			c.reply <- c.fn(ctx)
		case ev := <-events:
			s.handle(ev)
		}
	}
}

func (s *Session) poll(ctx context.Context) (snapshot, error) {
	g, err := s.deps.Store.Game(ctx, s.gameID)
	if err != nil {
		return snapshot{}, err
	}
	t, err := s.deps.Store.Team(ctx, s.teamID)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{Game: g, Team: t}, nil
}

func (s *Session) handle(ev reconcile.Event[snapshot]) {
	switch {
	case ev.Err != nil:
		if errors.Is(ev.Err, quiz.ErrNotFound) {
			s.ended = true
			return
		}
		s.deps.Logger.Warn("polling game", "game_id", s.gameID, "team_id", s.teamID, "error", ev.Err)
	case ev.Snapshot != nil:
		s.applyGame(ev.Snapshot.Game)
		s.applyTeam(ev.Snapshot.Team)
	case ev.Change != nil:
		s.applyChange(*ev.Change)
	}
}

func (s *Session) applyChange(c feed.Change) {
	switch c.Relation {
	case feed.RelationGame:
		if c.Op == feed.OpDelete {
			s.ended = true
			return
		}
		if c.Game != nil {
			s.applyGame(c.Game.Clone())
		}
	case feed.RelationTeam:
		if c.TeamID == s.teamID && c.Team != nil {
			s.applyTeam(*c.Team)
		}
	case feed.RelationBuzz:
		if c.Op == feed.OpInsert && c.TeamID == s.teamID && s.game.ActiveQuestion != nil {
			s.hasBuzzed = true
		}
	}
}

// applyGame installs a newer game and settles hasBuzzed from it alone:
// any accepted revision without an active question or with an unlocked
// buzzer clears it, and a revision naming this team as winner sets it.
// Push and poll may skip different intermediate revisions, so nothing
// here depends on the previous game.
func (s *Session) applyGame(next quiz.Game) {
	if !reconcile.Replace(&s.game, next, s.game.Revision, next.Revision) {
		return
	}

	aq := s.game.ActiveQuestion
	if aq == nil || !aq.BuzzerLocked {
		s.hasBuzzed = false
	}
	if aq != nil && aq.BuzzedTeam != nil && aq.BuzzedTeam.TeamID == s.teamID {
		s.hasBuzzed = true
	}
}

func (s *Session) applyTeam(t quiz.Team) {
	reconcile.Replace(&s.team, t, s.team.Revision, t.Revision)
}

func (s *Session) do(ctx context.Context, fn func(context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case s.calls <- call{fn: fn, reply: reply}:
	case <-s.done:
		return quiz.ErrGameEnded
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return quiz.ErrGameEnded
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
