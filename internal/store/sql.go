package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmic-mathiasbang/nm-quiz/internal/database"
	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

// SQLStore implements Store on SQLite or PostgreSQL. Games are kept as JSON
// documents in a data column; teams and buzz events are plain rows.
type SQLStore struct {
	notifier
	db *database.DB

	mu       sync.Mutex
	lastRecv int64
}

func NewSQLStore(db *database.DB, f feed.Feed, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		notifier: notifier{feed: f, logger: logger},
		db:       db,
	}
}

func (s *SQLStore) q(query string) string {
	return s.db.Dialect.Rebind(query)
}

func (s *SQLStore) CreateGame(ctx context.Context, g quiz.Game) (quiz.Game, error) {
	g.Revision = 1
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(g)
	if err != nil {
		return quiz.Game{}, err
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO games (id, revision, data, created_at) VALUES (?, ?, ?, ?)`),
		g.ID, g.Revision, string(data), g.CreatedAt.UnixNano(),
	)
	if s.db.Dialect.IsUniqueViolation(err) {
		return quiz.Game{}, quiz.ErrConflict
	}
	if err != nil {
		return quiz.Game{}, fmt.Errorf("inserting game: %w", err)
	}

	s.publish(ctx, gameChange(feed.OpInsert, g.Clone()))
	return g, nil
}

func (s *SQLStore) Game(ctx context.Context, id string) (quiz.Game, error) {
	return scanGame(s.db.QueryRowContext(ctx,
		s.q(`SELECT data, revision FROM games WHERE id = ?`), id,
	))
}

// UpdateGame loads a game, applies fn, and saves it in a transaction.
func (s *SQLStore) UpdateGame(ctx context.Context, id string, fn func(*quiz.Game) error) (quiz.Game, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return quiz.Game{}, err
	}
	defer tx.Rollback()

	cur, err := scanGame(tx.QueryRowContext(ctx,
		s.q(`SELECT data, revision FROM games WHERE id = ?`+s.db.Dialect.ForUpdate()), id,
	))
	if err != nil {
		return quiz.Game{}, err
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return quiz.Game{}, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.Revision = cur.Revision + 1

	data, err := json.Marshal(next)
	if err != nil {
		return quiz.Game{}, err
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE games SET data = ?, revision = ? WHERE id = ?`),
		string(data), next.Revision, id,
	); err != nil {
		return quiz.Game{}, fmt.Errorf("updating game: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return quiz.Game{}, err
	}

	s.publish(ctx, gameChange(feed.OpUpdate, next.Clone()))
	return next, nil
}

func (s *SQLStore) DeleteGame(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM games WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting game: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return quiz.ErrNotFound
	}

	s.publish(ctx, feed.Change{Relation: feed.RelationGame, Op: feed.OpDelete, GameID: id})
	return nil
}

const teamColumns = `id, game_id, name, score, connected, sound_type, custom_sound, ready, revision, created_at`

func (s *SQLStore) InsertTeam(ctx context.Context, t quiz.Team) (quiz.Team, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Revision = 1
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var exists int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM games WHERE id = ?`), t.GameID).Scan(&exists)
	if err != nil {
		return quiz.Team{}, err
	}
	if exists == 0 {
		return quiz.Team{}, quiz.ErrNotFound
	}

	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO teams (`+teamColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.GameID, t.Name, t.Score, boolInt(t.Connected), string(t.SoundType),
		t.CustomSound, boolInt(t.Ready), t.Revision, t.CreatedAt.UnixNano(),
	)
	if s.db.Dialect.IsUniqueViolation(err) {
		return quiz.Team{}, quiz.ErrConflict
	}
	if err != nil {
		return quiz.Team{}, fmt.Errorf("inserting team: %w", err)
	}

	s.publish(ctx, teamChange(feed.OpInsert, t))
	return t, nil
}

func (s *SQLStore) Team(ctx context.Context, id string) (quiz.Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+teamColumns+` FROM teams WHERE id = ?`), id,
	))
}

func (s *SQLStore) TeamByName(ctx context.Context, gameID, name string) (quiz.Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+teamColumns+` FROM teams WHERE game_id = ? AND name = ?`), gameID, name,
	))
}

func (s *SQLStore) Teams(ctx context.Context, gameID string) ([]quiz.Team, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+teamColumns+` FROM teams WHERE game_id = ? ORDER BY created_at, id`), gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []quiz.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *SQLStore) UpdateTeam(ctx context.Context, id string, fn func(*quiz.Team) error) (quiz.Team, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return quiz.Team{}, err
	}
	defer tx.Rollback()

	cur, err := scanTeam(tx.QueryRowContext(ctx,
		s.q(`SELECT `+teamColumns+` FROM teams WHERE id = ?`+s.db.Dialect.ForUpdate()), id,
	))
	if err != nil {
		return quiz.Team{}, err
	}

	next := cur
	if err := fn(&next); err != nil {
		return quiz.Team{}, err
	}
	next.ID, next.GameID, next.Name, next.CreatedAt = cur.ID, cur.GameID, cur.Name, cur.CreatedAt
	next.Revision = cur.Revision + 1

	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE teams SET score = ?, connected = ?, sound_type = ?, custom_sound = ?, ready = ?, revision = ?
		 WHERE id = ?`),
		next.Score, boolInt(next.Connected), string(next.SoundType), next.CustomSound,
		boolInt(next.Ready), next.Revision, id,
	); err != nil {
		return quiz.Team{}, fmt.Errorf("updating team: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return quiz.Team{}, err
	}

	s.publish(ctx, teamChange(feed.OpUpdate, next))
	return next, nil
}

func (s *SQLStore) InsertBuzz(ctx context.Context, b quiz.BuzzEvent) (quiz.BuzzEvent, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM teams WHERE id = ? AND game_id = ?`), b.TeamID, b.GameID,
	).Scan(&n)
	if err != nil {
		return quiz.BuzzEvent{}, err
	}
	if n == 0 {
		return quiz.BuzzEvent{}, quiz.ErrNotFound
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.ReceivedAt = s.nextReceived()

	if _, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO buzz_events (id, game_id, team_id, team_name, timestamp, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		b.ID, b.GameID, b.TeamID, b.TeamName, b.Timestamp, b.ReceivedAt,
	); err != nil {
		return quiz.BuzzEvent{}, fmt.Errorf("inserting buzz: %w", err)
	}

	s.publish(ctx, feed.Change{
		Relation: feed.RelationBuzz,
		Op:       feed.OpInsert,
		GameID:   b.GameID,
		TeamID:   b.TeamID,
		Buzz:     &b,
	})
	return b, nil
}

func (s *SQLStore) nextReceived() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	recv := time.Now().UnixNano()
	if recv <= s.lastRecv {
		recv = s.lastRecv + 1
	}
	s.lastRecv = recv
	return recv
}

func (s *SQLStore) Buzzes(ctx context.Context, gameID string) ([]quiz.BuzzEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, game_id, team_id, team_name, timestamp, received_at
		 FROM buzz_events WHERE game_id = ? ORDER BY received_at, id`), gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buzzes []quiz.BuzzEvent
	for rows.Next() {
		var b quiz.BuzzEvent
		if err := rows.Scan(&b.ID, &b.GameID, &b.TeamID, &b.TeamName, &b.Timestamp, &b.ReceivedAt); err != nil {
			return nil, err
		}
		buzzes = append(buzzes, b)
	}
	return buzzes, rows.Err()
}

func (s *SQLStore) DeleteBuzzes(ctx context.Context, gameID string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM buzz_events WHERE game_id = ?`), gameID); err != nil {
		return fmt.Errorf("deleting buzzes: %w", err)
	}
	s.publish(ctx, feed.Change{Relation: feed.RelationBuzz, Op: feed.OpDelete, GameID: gameID})
	return nil
}

func scanGame(row *sql.Row) (quiz.Game, error) {
	var (
		data     string
		revision int64
	)
	err := row.Scan(&data, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Game{}, quiz.ErrNotFound
	}
	if err != nil {
		return quiz.Game{}, err
	}
	var g quiz.Game
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return quiz.Game{}, fmt.Errorf("decoding game: %w", err)
	}
	g.Revision = revision
	return g, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTeam(row scanner) (quiz.Team, error) {
	var (
		t                quiz.Team
		connected, ready int
		sound            string
		created          int64
	)
	err := row.Scan(&t.ID, &t.GameID, &t.Name, &t.Score, &connected, &sound,
		&t.CustomSound, &ready, &t.Revision, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Team{}, quiz.ErrNotFound
	}
	if err != nil {
		return quiz.Team{}, err
	}
	t.Connected = connected != 0
	t.Ready = ready != 0
	t.SoundType = quiz.SoundType(sound)
	t.CreatedAt = time.Unix(0, created).UTC()
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
