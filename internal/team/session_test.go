package team

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
)

type silentFeed struct{ inner *feed.Broker }

func (f silentFeed) Publish(context.Context, feed.Change) error { return nil }
func (f silentFeed) Subscribe(ctx context.Context, gameID string) (*feed.Subscription, error) {
	return f.inner.Subscribe(ctx, gameID)
}

func newGame(t *testing.T, f feed.Feed) (*store.MemStore, Deps, quiz.Game) {
	t.Helper()
	st := store.NewMemStore(f, slog.Default())
	bank, err := quiz.DefaultBank()
	require.NoError(t, err)
	g, err := st.CreateGame(context.Background(), quiz.NewGame("ABC123", "host-1", bank, rand.New(rand.NewPCG(7, 7))))
	require.NoError(t, err)
	deps := Deps{Store: st, Logger: slog.Default(), PollEvery: time.Hour}
	return st, deps, g
}

func join(t *testing.T, deps Deps, name string) *Session {
	t.Helper()
	s, err := Join(context.Background(), deps, "ABC123", name)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// hostUpdate stands in for the host writing the game.
func hostUpdate(t *testing.T, st store.Store, fn func(g *quiz.Game) error) quiz.Game {
	t.Helper()
	g, err := st.UpdateGame(context.Background(), "ABC123", fn)
	require.NoError(t, err)
	return g
}

func openPlainQuestion(g *quiz.Game) error {
	g.Started = true
	for c, cat := range g.Board {
		for q, cell := range cat.Questions {
			if !cell.IsBonus && !cell.Used {
				return g.Open(c, q)
			}
		}
	}
	return quiz.ErrNoSuchCell
}

func viewEventually(t *testing.T, s *Session, cond func(View) bool) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		var err error
		v, err = s.View(context.Background())
		return err == nil && cond(v)
	}, 2*time.Second, 5*time.Millisecond)
	return v
}

func TestJoin(t *testing.T) {
	st, deps, _ := newGame(t, feed.NewBroker())
	join(t, deps, "Owls")

	tests := []struct {
		name     string
		code     string
		teamName string
		wantErr  error
	}{
		{name: "malformed code", code: "ABC", teamName: "Foxes", wantErr: quiz.ErrInvalidGameCode},
		{name: "unknown game", code: "ZZZ999", teamName: "Foxes", wantErr: quiz.ErrNotFound},
		{name: "empty name", code: "ABC123", teamName: "   ", wantErr: quiz.ErrInvalidTeamName},
		{name: "long name", code: "ABC123", teamName: strings.Repeat("x", quiz.MaxTeamNameLen+1), wantErr: quiz.ErrInvalidTeamName},
		{name: "taken name", code: "ABC123", teamName: "Owls", wantErr: quiz.ErrConflict},
		{name: "taken name with padding", code: "abc123", teamName: " Owls ", wantErr: quiz.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Join(context.Background(), deps, tt.code, tt.teamName)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	teams, err := st.Teams(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Len(t, teams, 1)
}

func TestJoinNormalizesAndDefaults(t *testing.T) {
	_, deps, _ := newGame(t, feed.NewBroker())

	s, err := Join(context.Background(), deps, " abc123 ", "  Night Owls ")
	require.NoError(t, err)
	defer s.Close()

	v, err := s.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScreenWaitingRoom, v.Screen)
	assert.Equal(t, "ABC123", v.GameID)
	assert.Equal(t, "Night Owls", v.Team.Name)
	assert.True(t, v.Team.Connected)
	assert.False(t, v.Team.Ready)
	assert.Equal(t, quiz.SoundBuzzer, v.Team.SoundType)
	assert.Zero(t, v.Team.Score)
}

func TestToggleReady(t *testing.T) {
	ctx := context.Background()
	st, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")

	require.NoError(t, s.ToggleReady(ctx))
	got, err := st.Team(ctx, s.TeamID())
	require.NoError(t, err)
	assert.True(t, got.Ready)

	require.NoError(t, s.ToggleReady(ctx))
	got, err = st.Team(ctx, s.TeamID())
	require.NoError(t, err)
	assert.False(t, got.Ready)

	hostUpdate(t, st, func(g *quiz.Game) error { g.Started = true; return nil })
	viewEventually(t, s, func(v View) bool { return v.Screen == ScreenWatching })
	assert.ErrorIs(t, s.ToggleReady(ctx), quiz.ErrAlreadyStarted)
}

func TestSetSound(t *testing.T) {
	ctx := context.Background()
	st, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")

	assert.ErrorIs(t, s.SetSound(ctx, "kazoo", ""), quiz.ErrInvalidSound)
	assert.ErrorIs(t, s.SetSound(ctx, quiz.SoundCustom, ""), quiz.ErrInvalidCustomSound)

	require.NoError(t, s.SetSound(ctx, quiz.SoundCustom, "data:audio/webm;base64,AAAA"))
	got, err := st.Team(ctx, s.TeamID())
	require.NoError(t, err)
	assert.Equal(t, quiz.SoundCustom, got.SoundType)
	assert.Equal(t, "data:audio/webm;base64,AAAA", got.CustomSound)

	require.NoError(t, s.SetSound(ctx, quiz.SoundQuack, ""))
	got, err = st.Team(ctx, s.TeamID())
	require.NoError(t, err)
	assert.Equal(t, quiz.SoundQuack, got.SoundType)
	assert.Empty(t, got.CustomSound)

	hostUpdate(t, st, func(g *quiz.Game) error { g.Started = true; return nil })
	viewEventually(t, s, func(v View) bool { return v.Screen == ScreenWatching })
	assert.ErrorIs(t, s.SetSound(ctx, quiz.SoundBell, ""), quiz.ErrAlreadyStarted)
}

func TestConnectedFollowsSockets(t *testing.T) {
	ctx := context.Background()
	st, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")

	connected := func() quiz.Team {
		t.Helper()
		got, err := st.Team(ctx, s.TeamID())
		require.NoError(t, err)
		return got
	}

	require.NoError(t, s.Attach(ctx))
	require.NoError(t, s.Attach(ctx))
	first := connected()
	assert.True(t, first.Connected)

	// One of two sockets closing leaves the team connected and unwritten.
	require.NoError(t, s.Detach(ctx))
	again := connected()
	assert.True(t, again.Connected)
	assert.Equal(t, first.Revision, again.Revision)

	require.NoError(t, s.Detach(ctx))
	assert.False(t, connected().Connected)

	// A stray detach does not go negative.
	require.NoError(t, s.Detach(ctx))
	require.NoError(t, s.Attach(ctx))
	assert.True(t, connected().Connected)
}

func TestBuzzPreconditions(t *testing.T) {
	ctx := context.Background()
	st, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")

	assert.ErrorIs(t, s.Buzz(ctx), quiz.ErrNotStarted)

	hostUpdate(t, st, func(g *quiz.Game) error { g.Started = true; return nil })
	viewEventually(t, s, func(v View) bool { return v.Screen == ScreenWatching })
	assert.ErrorIs(t, s.Buzz(ctx), quiz.ErrNoActiveQuestion)

	hostUpdate(t, st, openPlainQuestion)
	v := viewEventually(t, s, func(v View) bool { return v.Screen == ScreenBuzzing })
	assert.True(t, v.CanBuzz)

	require.NoError(t, s.Buzz(ctx))
	assert.ErrorIs(t, s.Buzz(ctx), quiz.ErrAlreadyBuzzed)

	v, err := s.View(ctx)
	require.NoError(t, err)
	assert.True(t, v.HasBuzzed)
	assert.False(t, v.CanBuzz)

	buzzes, err := st.Buzzes(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, buzzes, 1)
	assert.Equal(t, s.TeamID(), buzzes[0].TeamID)
	assert.Equal(t, "Owls", buzzes[0].TeamName)
}

func TestBuzzRejectedWhenLockedByOther(t *testing.T) {
	ctx := context.Background()
	st, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")
	other := join(t, deps, "Foxes")

	hostUpdate(t, st, openPlainQuestion)
	hostUpdate(t, st, func(g *quiz.Game) error {
		return g.LockBuzzer(quiz.BuzzedTeam{TeamID: other.TeamID(), TeamName: "Foxes"})
	})

	v := viewEventually(t, s, func(v View) bool { return v.Question != nil && v.Question.BuzzerLocked })
	assert.False(t, v.Won)
	assert.False(t, v.CanBuzz)
	assert.False(t, v.HasBuzzed)
	assert.Equal(t, "Foxes", v.Question.BuzzedTeam.TeamName)
	assert.ErrorIs(t, s.Buzz(ctx), quiz.ErrBuzzerLocked)

	ov := viewEventually(t, other, func(v View) bool { return v.Won })
	assert.True(t, ov.HasBuzzed)
}

func TestHasBuzzedConverges(t *testing.T) {
	ctx := context.Background()
	st, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")
	hostUpdate(t, st, openPlainQuestion)
	viewEventually(t, s, func(v View) bool { return v.CanBuzz })

	// The team's own insert, made from another device, is enough.
	_, err := st.InsertBuzz(ctx, quiz.BuzzEvent{GameID: "ABC123", TeamID: s.TeamID(), TeamName: "Owls"})
	require.NoError(t, err)
	viewEventually(t, s, func(v View) bool { return v.HasBuzzed })

	// So is the host recording this team as winner.
	hostUpdate(t, st, func(g *quiz.Game) error {
		return g.LockBuzzer(quiz.BuzzedTeam{TeamID: s.TeamID(), TeamName: "Owls"})
	})
	v := viewEventually(t, s, func(v View) bool { return v.Won })
	assert.True(t, v.HasBuzzed)

	// A reset lets the team try again.
	hostUpdate(t, st, (*quiz.Game).ResetBuzzer)
	v = viewEventually(t, s, func(v View) bool { return v.CanBuzz })
	assert.False(t, v.HasBuzzed)

	require.NoError(t, s.Buzz(ctx))
	hostUpdate(t, st, func(g *quiz.Game) error { g.Close(true); return nil })
	v = viewEventually(t, s, func(v View) bool { return v.Screen == ScreenWatching })
	assert.False(t, v.HasBuzzed)
}

func TestAnswerHiddenUntilRevealed(t *testing.T) {
	st, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")
	g := hostUpdate(t, st, openPlainQuestion)

	v := viewEventually(t, s, func(v View) bool { return v.Question != nil })
	assert.Equal(t, g.ActiveQuestion.Prompt, v.Question.Prompt)
	assert.Empty(t, v.Question.Answer)

	hostUpdate(t, st, (*quiz.Game).Reveal)
	v = viewEventually(t, s, func(v View) bool { return v.Question.Answer != "" })
	assert.Equal(t, g.ActiveQuestion.Answer, v.Question.Answer)
}

func TestPollingWithoutNotifications(t *testing.T) {
	st, deps, _ := newGame(t, silentFeed{inner: feed.NewBroker()})
	deps.PollEvery = 10 * time.Millisecond
	s := join(t, deps, "Owls")

	hostUpdate(t, st, openPlainQuestion)
	_, err := st.UpdateTeam(context.Background(), s.TeamID(), func(t *quiz.Team) error { t.Score = 300; return nil })
	require.NoError(t, err)

	v := viewEventually(t, s, func(v View) bool { return v.Screen == ScreenBuzzing && v.Team.Score == 300 })
	assert.True(t, v.CanBuzz)
}

func TestPollingSeesResetBetweenPolls(t *testing.T) {
	ctx := context.Background()
	st, deps, _ := newGame(t, silentFeed{inner: feed.NewBroker()})
	deps.PollEvery = 200 * time.Millisecond
	s := join(t, deps, "Owls")

	hostUpdate(t, st, openPlainQuestion)
	viewEventually(t, s, func(v View) bool { return v.CanBuzz })
	require.NoError(t, s.Buzz(ctx))

	// Lock and reset land between two polls; the team never sees the lock.
	hostUpdate(t, st, func(g *quiz.Game) error {
		return g.LockBuzzer(quiz.BuzzedTeam{TeamID: s.TeamID(), TeamName: "Owls"})
	})
	hostUpdate(t, st, (*quiz.Game).ResetBuzzer)

	v := viewEventually(t, s, func(v View) bool { return v.CanBuzz })
	assert.False(t, v.Question.BuzzerLocked)
	assert.False(t, v.HasBuzzed)
	require.NoError(t, s.Buzz(ctx))
}

func TestEndsWhenGameDeleted(t *testing.T) {
	st, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")

	require.NoError(t, st.DeleteGame(context.Background(), "ABC123"))
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
	_, err := s.View(context.Background())
	assert.ErrorIs(t, err, quiz.ErrGameEnded)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	_, deps, _ := newGame(t, feed.NewBroker())
	s := join(t, deps, "Owls")
	require.NoError(t, s.ToggleReady(ctx))
	s.Close()

	resumed, err := Resume(ctx, deps, s.TeamID())
	require.NoError(t, err)
	defer resumed.Close()

	v, err := resumed.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Owls", v.Team.Name)
	assert.True(t, v.Team.Ready)

	_, err = Resume(ctx, deps, "missing")
	assert.ErrorIs(t, err, quiz.ErrNotFound)
}
