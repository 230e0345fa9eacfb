package store

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

// MemStore keeps everything in process memory. Changes are published while
// the lock is held, so subscribers see writes in commit order. Values handed
// in and out are copies; nothing returned aliases the stored state.
type MemStore struct {
	notifier

	mu       sync.Mutex
	games    map[string]quiz.Game
	teams    map[string]quiz.Team
	buzzes   map[string][]quiz.BuzzEvent
	lastRecv int64
}

func NewMemStore(f feed.Feed, logger *slog.Logger) *MemStore {
	return &MemStore{
		notifier: notifier{feed: f, logger: logger},
		games:    make(map[string]quiz.Game),
		teams:    make(map[string]quiz.Team),
		buzzes:   make(map[string][]quiz.BuzzEvent),
	}
}

func (s *MemStore) CreateGame(ctx context.Context, g quiz.Game) (quiz.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[g.ID]; ok {
		return quiz.Game{}, quiz.ErrConflict
	}
	g = g.Clone()
	g.Revision = 1
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	s.games[g.ID] = g
	s.publish(ctx, gameChange(feed.OpInsert, g.Clone()))
	return g.Clone(), nil
}

func (s *MemStore) Game(_ context.Context, id string) (quiz.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return quiz.Game{}, quiz.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *MemStore) UpdateGame(ctx context.Context, id string, fn func(*quiz.Game) error) (quiz.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.games[id]
	if !ok {
		return quiz.Game{}, quiz.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return quiz.Game{}, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.Revision = cur.Revision + 1
	s.games[id] = next
	s.publish(ctx, gameChange(feed.OpUpdate, next.Clone()))
	return next.Clone(), nil
}

func (s *MemStore) DeleteGame(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[id]; !ok {
		return quiz.ErrNotFound
	}
	delete(s.games, id)
	delete(s.buzzes, id)
	for tid, t := range s.teams {
		if t.GameID == id {
			delete(s.teams, tid)
		}
	}
	s.publish(ctx, feed.Change{Relation: feed.RelationGame, Op: feed.OpDelete, GameID: id})
	return nil
}

func (s *MemStore) InsertTeam(ctx context.Context, t quiz.Team) (quiz.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[t.GameID]; !ok {
		return quiz.Team{}, quiz.ErrNotFound
	}
	for _, other := range s.teams {
		if other.GameID == t.GameID && other.Name == t.Name {
			return quiz.Team{}, quiz.ErrConflict
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := s.teams[t.ID]; ok {
		return quiz.Team{}, quiz.ErrConflict
	}
	t.Revision = 1
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.teams[t.ID] = t
	s.publish(ctx, teamChange(feed.OpInsert, t))
	return t, nil
}

func (s *MemStore) Team(_ context.Context, id string) (quiz.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	if !ok {
		return quiz.Team{}, quiz.ErrNotFound
	}
	return t, nil
}

func (s *MemStore) TeamByName(_ context.Context, gameID, name string) (quiz.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.teams {
		if t.GameID == gameID && t.Name == name {
			return t, nil
		}
	}
	return quiz.Team{}, quiz.ErrNotFound
}

func (s *MemStore) Teams(_ context.Context, gameID string) ([]quiz.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []quiz.Team
	for _, t := range s.teams {
		if t.GameID == gameID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b quiz.Team) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemStore) UpdateTeam(ctx context.Context, id string, fn func(*quiz.Team) error) (quiz.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.teams[id]
	if !ok {
		return quiz.Team{}, quiz.ErrNotFound
	}
	next := cur
	if err := fn(&next); err != nil {
		return quiz.Team{}, err
	}
	next.ID, next.GameID, next.Name, next.CreatedAt = cur.ID, cur.GameID, cur.Name, cur.CreatedAt
	next.Revision = cur.Revision + 1
	s.teams[id] = next
	s.publish(ctx, teamChange(feed.OpUpdate, next))
	return next, nil
}

func (s *MemStore) InsertBuzz(ctx context.Context, b quiz.BuzzEvent) (quiz.BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[b.TeamID]
	if !ok || t.GameID != b.GameID {
		return quiz.BuzzEvent{}, quiz.ErrNotFound
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	// Strictly increasing so that arrival order is total.
	recv := time.Now().UnixNano()
	if recv <= s.lastRecv {
		recv = s.lastRecv + 1
	}
	s.lastRecv = recv
	b.ReceivedAt = recv
	s.buzzes[b.GameID] = append(s.buzzes[b.GameID], b)
	s.publish(ctx, feed.Change{
		Relation: feed.RelationBuzz,
		Op:       feed.OpInsert,
		GameID:   b.GameID,
		TeamID:   b.TeamID,
		Buzz:     &b,
	})
	return b, nil
}

func (s *MemStore) Buzzes(_ context.Context, gameID string) ([]quiz.BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.buzzes[gameID]), nil
}

func (s *MemStore) DeleteBuzzes(ctx context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buzzes, gameID)
	s.publish(ctx, feed.Change{Relation: feed.RelationBuzz, Op: feed.OpDelete, GameID: gameID})
	return nil
}
