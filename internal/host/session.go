// Package host runs the host side of a game: the only writer of the Game
// record and the sole arbiter of buzz races.
//
// A Session is an actor. One goroutine owns the local mirror of the game,
// its teams and the pending stake selection; commands, pushed changes and
// poll snapshots are all handled on that goroutine, one at a time. Store
// writes made on behalf of a command run inline, so arbitration can never
// interleave with another transition.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/reconcile"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
)

// createAttempts bounds retries when a fresh game code is already taken.
const createAttempts = 5

type Deps struct {
	Store     store.Store
	Logger    *slog.Logger
	PollEvery time.Duration
	// Rand picks bonus cells. Nil means a freshly seeded source per game.
	Rand *rand.Rand
}

type Session struct {
	deps   Deps
	gameID string
	hostID string

	calls  chan call
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the loop goroutine.
	game  quiz.Game
	teams []quiz.Team
	stake *StakeSelection
	ended bool
}

type call struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// snapshot is one poll of everything the host mirrors.
type snapshot struct {
	Game   quiz.Game
	Teams  []quiz.Team
	Buzzes []quiz.BuzzEvent
}

// Create builds a new board from bank, persists the game under a fresh
// code and starts its session. ctx bounds the session's lifetime.
func Create(ctx context.Context, deps Deps, bank quiz.Bank) (*Session, error) {
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	hostID := uuid.NewString()

	for range createAttempts {
		code, err := quiz.NewGameCode()
		if err != nil {
			return nil, fmt.Errorf("generating game code: %w", err)
		}
		g, err := deps.Store.CreateGame(ctx, quiz.NewGame(code, hostID, bank, rng))
		if errors.Is(err, quiz.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("creating game: %w", err)
		}
		deps.Logger.Info("game created", "game_id", g.ID)
		return start(ctx, deps, g, nil), nil
	}
	return nil, fmt.Errorf("creating game: %w", quiz.ErrConflict)
}

// Resume re-attaches to a persisted game, e.g. after a host reload or a
// server restart.
func Resume(ctx context.Context, deps Deps, gameID string) (*Session, error) {
	g, err := deps.Store.Game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	teams, err := deps.Store.Teams(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("loading teams: %w", err)
	}
	return start(ctx, deps, g, teams), nil
}

func start(parent context.Context, deps Deps, g quiz.Game, teams []quiz.Team) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		deps:   deps,
		gameID: g.ID,
		hostID: g.HostID,
		calls:  make(chan call),
		cancel: cancel,
		done:   make(chan struct{}),
		game:   g,
		teams:  teams,
	}

	sub, err := deps.Store.Subscribe(ctx, g.ID)
	if err != nil {
		deps.Logger.Warn("subscribing to game changes, polling only",
			"game_id", g.ID,
			"error", err,
		)
		sub = nil
	}

	go s.run(ctx, sub)
	return s
}

func (s *Session) GameID() string { return s.gameID }
func (s *Session) HostID() string { return s.hostID }

// Done is closed once the session has stopped, either because the game
// ended or because Close was called.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the session and waits for its subscription and poller to
// be torn down. The game itself is left in the store.
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
		s.deps.Logger.Error("host session", "game_id", s.gameID, "error", err)
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
			s.handle(ctx, ev)
		}
	}
	s.deps.Logger.Info("game ended", "game_id", s.gameID)
}

// poll runs on the reconcile goroutine and must not touch loop state. The
// game is read before the buzz rows so that rows never predate the game
// revision they are reported with.
func (s *Session) poll(ctx context.Context) (snapshot, error) {
	g, err := s.deps.Store.Game(ctx, s.gameID)
	if err != nil {
		return snapshot{}, err
	}
	teams, err := s.deps.Store.Teams(ctx, s.gameID)
	if err != nil {
		return snapshot{}, err
	}
	buzzes, err := s.deps.Store.Buzzes(ctx, s.gameID)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{Game: g, Teams: teams, Buzzes: buzzes}, nil
}

// do runs fn on the loop goroutine and returns its result.
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
