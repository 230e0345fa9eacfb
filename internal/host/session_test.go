package host

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
)

// silentFeed accepts subscriptions but never delivers anything, as if
// every notification were lost in transit.
type silentFeed struct{ inner *feed.Broker }

func (f silentFeed) Publish(context.Context, feed.Change) error { return nil }
func (f silentFeed) Subscribe(ctx context.Context, gameID string) (*feed.Subscription, error) {
	return f.inner.Subscribe(ctx, gameID)
}

func newHost(t *testing.T, f feed.Feed, every time.Duration) (*Session, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore(f, slog.Default())
	deps := Deps{
		Store:     st,
		Logger:    slog.Default(),
		PollEvery: every,
		Rand:      rand.New(rand.NewPCG(1, 2)),
	}
	bank, err := quiz.DefaultBank()
	require.NoError(t, err)

	s, err := Create(context.Background(), deps, bank)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, st
}

func addTeam(t *testing.T, st store.Store, gameID, name string, ready bool) quiz.Team {
	t.Helper()
	ctx := context.Background()
	team, err := st.InsertTeam(ctx, quiz.NewTeam("", gameID, name))
	require.NoError(t, err)
	if ready {
		team, err = st.UpdateTeam(ctx, team.ID, func(t *quiz.Team) error { t.Ready = true; return nil })
		require.NoError(t, err)
	}
	return team
}

// startedHost returns a running game with the named teams, all ready.
func startedHost(t *testing.T, names ...string) (*Session, *store.MemStore, []quiz.Team) {
	t.Helper()
	s, st := newHost(t, feed.NewBroker(), time.Hour)
	var teams []quiz.Team
	for _, n := range names {
		teams = append(teams, addTeam(t, st, s.GameID(), n, true))
	}
	require.NoError(t, s.Start(context.Background()))
	return s, st, teams
}

func findCell(t *testing.T, s *Session, bonus bool) (int, int) {
	t.Helper()
	v, err := s.View(context.Background())
	require.NoError(t, err)
	for c, cat := range v.Game.Board {
		for q, cell := range cat.Questions {
			if cell.IsBonus == bonus && !cell.Used {
				return c, q
			}
		}
	}
	t.Fatalf("no cell with bonus=%v", bonus)
	return 0, 0
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

func buzz(t *testing.T, st store.Store, team quiz.Team, clock int64) {
	t.Helper()
	_, err := st.InsertBuzz(context.Background(), quiz.BuzzEvent{
		GameID:    team.GameID,
		TeamID:    team.ID,
		TeamName:  team.Name,
		Timestamp: clock,
	})
	require.NoError(t, err)
}

func locked(v View) bool {
	return v.Game.ActiveQuestion != nil && v.Game.ActiveQuestion.BuzzerLocked
}

func TestCreate(t *testing.T) {
	s, st := newHost(t, feed.NewBroker(), time.Hour)

	g, err := st.Game(context.Background(), s.GameID())
	require.NoError(t, err)
	assert.Len(t, g.ID, quiz.GameCodeLength)
	assert.Equal(t, s.HostID(), g.HostID)
	assert.False(t, g.Started)
	assert.Nil(t, g.ActiveQuestion)

	bonus := 0
	for _, c := range g.Board {
		for _, q := range c.Questions {
			if q.IsBonus {
				bonus++
			}
		}
	}
	assert.Equal(t, quiz.BonusCells, bonus)

	v, err := s.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScreenLobby, v.Screen)
	assert.False(t, v.CanStart)
}

func TestStartRequiresReadyTeams(t *testing.T) {
	ctx := context.Background()
	s, st := newHost(t, feed.NewBroker(), time.Hour)

	assert.ErrorIs(t, s.Start(ctx), quiz.ErrNoTeams)

	addTeam(t, st, s.GameID(), "Owls", true)
	slow := addTeam(t, st, s.GameID(), "Foxes", false)
	assert.ErrorIs(t, s.Start(ctx), quiz.ErrTeamsNotReady)

	g, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.False(t, g.Started)

	_, err = st.UpdateTeam(ctx, slow.ID, func(t *quiz.Team) error { t.Ready = true; return nil })
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	g, err = st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.True(t, g.Started)
	assert.ErrorIs(t, s.Start(ctx), quiz.ErrAlreadyStarted)
}

func TestExampleRound(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A", "B")
	a, b := teams[0], teams[1]
	c, q := findCell(t, s, false)

	require.NoError(t, s.Select(ctx, c, q))
	v, err := s.View(ctx)
	require.NoError(t, err)
	require.NotNil(t, v.Game.ActiveQuestion)
	value := v.Game.Board[c].Questions[q].Value
	assert.Equal(t, value, v.Game.ActiveQuestion.Value)
	assert.False(t, v.Game.ActiveQuestion.BuzzerLocked)
	assert.Equal(t, ScreenQuestion, v.Screen)

	// B's clock claims it was earlier; arrival order still decides.
	buzz(t, st, a, 2000)
	buzz(t, st, b, 1000)

	v = viewEventually(t, s, locked)
	assert.Equal(t, a.ID, v.Game.ActiveQuestion.BuzzedTeam.TeamID)

	require.NoError(t, s.Award(ctx, a.ID, value))
	require.NoError(t, s.CloseQuestion(ctx, true))

	g, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.True(t, g.Board[c].Questions[q].Used)
	assert.Nil(t, g.ActiveQuestion)

	got, err := st.Team(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, value, got.Score)

	buzzes, err := st.Buzzes(ctx, s.GameID())
	require.NoError(t, err)
	assert.Empty(t, buzzes)
}

func TestAtMostOneWinner(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A", "B", "C", "D", "E")
	c, q := findCell(t, s, false)
	require.NoError(t, s.Select(ctx, c, q))

	opened, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, team := range teams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.InsertBuzz(ctx, quiz.BuzzEvent{
				GameID:    team.GameID,
				TeamID:    team.ID,
				TeamName:  team.Name,
				Timestamp: int64(1000 - i),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v := viewEventually(t, s, locked)

	buzzes, err := st.Buzzes(ctx, s.GameID())
	require.NoError(t, err)
	require.Len(t, buzzes, len(teams))
	assert.Equal(t, buzzes[0].TeamID, v.Game.ActiveQuestion.BuzzedTeam.TeamID)

	// Later notifications must not re-arbitrate.
	time.Sleep(50 * time.Millisecond)
	g, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.Equal(t, opened.Revision+1, g.Revision)
	assert.Equal(t, buzzes[0].TeamID, g.ActiveQuestion.BuzzedTeam.TeamID)
}

func TestPollRecoversDroppedBuzz(t *testing.T) {
	ctx := context.Background()
	s, st := newHost(t, silentFeed{inner: feed.NewBroker()}, 10*time.Millisecond)
	a := addTeam(t, st, s.GameID(), "A", true)
	require.NoError(t, s.Start(ctx))
	c, q := findCell(t, s, false)
	require.NoError(t, s.Select(ctx, c, q))

	buzz(t, st, a, 1)

	v := viewEventually(t, s, locked)
	assert.Equal(t, a.ID, v.Game.ActiveQuestion.BuzzedTeam.TeamID)

	g, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.True(t, g.ActiveQuestion.BuzzerLocked)
}

func TestPollPicksUpTeamsWithoutNotifications(t *testing.T) {
	s, st := newHost(t, silentFeed{inner: feed.NewBroker()}, 10*time.Millisecond)
	addTeam(t, st, s.GameID(), "A", true)

	v := viewEventually(t, s, func(v View) bool { return len(v.Teams) == 1 })
	assert.True(t, v.CanStart)
}

func TestIdempotentClose(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A")
	c, q := findCell(t, s, false)
	require.NoError(t, s.Select(ctx, c, q))
	require.NoError(t, s.Award(ctx, teams[0].ID, 100))

	require.NoError(t, s.CloseQuestion(ctx, true))
	once, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)

	require.NoError(t, s.CloseQuestion(ctx, true))
	twice, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	team, err := st.Team(ctx, teams[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 100, team.Score)
}

func TestCloseWithoutMarking(t *testing.T) {
	ctx := context.Background()
	s, st, _ := startedHost(t, "A")
	c, q := findCell(t, s, false)
	require.NoError(t, s.Select(ctx, c, q))
	require.NoError(t, s.Reveal(ctx))

	v, err := s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, quiz.PhaseAnswerRevealed, v.Phase)

	require.NoError(t, s.CloseQuestion(ctx, false))
	g, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.False(t, g.Board[c].Questions[q].Used)
	assert.False(t, g.ShowAnswer)

	require.NoError(t, s.Select(ctx, c, q))
}

func TestUsedQuestionExcluded(t *testing.T) {
	ctx := context.Background()
	s, st, _ := startedHost(t, "A")
	c, q := findCell(t, s, false)
	require.NoError(t, s.Select(ctx, c, q))
	require.NoError(t, s.CloseQuestion(ctx, true))

	before, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Select(ctx, c, q), quiz.ErrQuestionUsed)

	after, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSelectRejectedWhileQuestionActive(t *testing.T) {
	ctx := context.Background()
	s, _, _ := startedHost(t, "A")
	c, q := findCell(t, s, false)
	require.NoError(t, s.Select(ctx, c, q))
	assert.ErrorIs(t, s.Select(ctx, c, q), quiz.ErrQuestionActive)
	assert.ErrorIs(t, s.Select(ctx, 99, 0), quiz.ErrQuestionActive)
}

func TestResetReopens(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A", "B")
	a, b := teams[0], teams[1]
	c, q := findCell(t, s, false)
	require.NoError(t, s.Select(ctx, c, q))

	assert.ErrorIs(t, s.ResetBuzzer(ctx), quiz.ErrBuzzerNotLocked)

	buzz(t, st, a, 1)
	v := viewEventually(t, s, locked)
	require.Equal(t, a.ID, v.Game.ActiveQuestion.BuzzedTeam.TeamID)

	require.NoError(t, s.ResetBuzzer(ctx))
	v, err := s.View(ctx)
	require.NoError(t, err)
	assert.False(t, v.Game.ActiveQuestion.BuzzerLocked)
	assert.Nil(t, v.Game.ActiveQuestion.BuzzedTeam)

	buzz(t, st, b, 2)
	v = viewEventually(t, s, locked)
	assert.Equal(t, b.ID, v.Game.ActiveQuestion.BuzzedTeam.TeamID)

	buzzes, err := st.Buzzes(ctx, s.GameID())
	require.NoError(t, err)
	require.Len(t, buzzes, 1)
	assert.Equal(t, b.ID, buzzes[0].TeamID)
}

func TestStaleBuzzIgnoredWithoutActiveQuestion(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A")

	before, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)

	buzz(t, st, teams[0], 1)
	time.Sleep(50 * time.Millisecond)

	after, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
	assert.Nil(t, after.ActiveQuestion)
}

var errStoreDown = errors.New("store unreachable")

// flakyStore fails the next game write after failNextGameWrite.
type flakyStore struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) failNextGameWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = true
}

func (f *flakyStore) UpdateGame(ctx context.Context, id string, fn func(*quiz.Game) error) (quiz.Game, error) {
	f.mu.Lock()
	fail := f.fail
	f.fail = false
	f.mu.Unlock()
	if fail {
		return quiz.Game{}, errStoreDown
	}
	return f.Store.UpdateGame(ctx, id, fn)
}

func TestResolveBonusRetryScoresOnce(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore(feed.NewBroker(), slog.Default())
	st := &flakyStore{Store: mem}
	bank, err := quiz.DefaultBank()
	require.NoError(t, err)
	s, err := Create(ctx, Deps{
		Store:     st,
		Logger:    slog.Default(),
		PollEvery: 20 * time.Millisecond,
		Rand:      rand.New(rand.NewPCG(1, 2)),
	}, bank)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	a := addTeam(t, mem, s.GameID(), "A", true)
	a, err = mem.UpdateTeam(ctx, a.ID, func(t *quiz.Team) error { t.Score = 300; return nil })
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	c, q := findCell(t, s, true)
	require.NoError(t, s.Select(ctx, c, q))
	require.NoError(t, s.ConfirmStake(ctx, a.ID, 300))

	st.failNextGameWrite()
	assert.ErrorIs(t, s.ResolveBonus(ctx, true), errStoreDown)

	got, err := mem.Team(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, got.Score, "no stake applied while the question is still open")

	// The poll brings the still-open bonus question back, and the retry
	// goes through.
	viewEventually(t, s, func(v View) bool { return v.Game.ActiveQuestion != nil })
	require.NoError(t, s.ResolveBonus(ctx, true))
	assert.ErrorIs(t, s.ResolveBonus(ctx, true), quiz.ErrNotBonusQuestion)

	got, err = mem.Team(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 600, got.Score)

	g, err := mem.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.Nil(t, g.ActiveQuestion)
	assert.True(t, g.Board[c].Questions[q].Used)
}

func TestStaking(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A", "B")
	a, b := teams[0], teams[1]
	c, q := findCell(t, s, true)

	require.NoError(t, s.Select(ctx, c, q))
	v, err := s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScreenStaking, v.Screen)
	require.NotNil(t, v.Staking)
	assert.Equal(t, c, v.Staking.CategoryIndex)
	assert.Equal(t, q, v.Staking.QuestionIndex)
	assert.Equal(t, quiz.FloorMaxStake, v.MaxStakes[a.ID])
	assert.Nil(t, v.Game.ActiveQuestion, "staking does not touch the game")

	pc, pq := findCell(t, s, false)
	assert.ErrorIs(t, s.Select(ctx, pc, pq), quiz.ErrStakingPending)

	assert.ErrorIs(t, s.ConfirmStake(ctx, a.ID, quiz.MinStake-1), quiz.ErrStakeOutOfRange)
	assert.ErrorIs(t, s.ConfirmStake(ctx, a.ID, quiz.FloorMaxStake+1), quiz.ErrStakeOutOfRange)
	assert.ErrorIs(t, s.ConfirmStake(ctx, "ghost", 200), quiz.ErrNotFound)

	require.NoError(t, s.ConfirmStake(ctx, a.ID, quiz.FloorMaxStake))
	v, err = s.View(ctx)
	require.NoError(t, err)
	aq := v.Game.ActiveQuestion
	require.NotNil(t, aq)
	assert.True(t, aq.IsBonus)
	assert.True(t, aq.BuzzerLocked)
	assert.True(t, aq.StakeConfirmed)
	assert.Equal(t, quiz.FloorMaxStake, aq.Stake)
	assert.Equal(t, a.ID, aq.StakingTeamID)
	assert.Equal(t, ScreenQuestion, v.Screen)
	assert.Nil(t, v.Staking)

	// Nobody can buzz in on a bonus question.
	buzz(t, st, b, 1)
	time.Sleep(30 * time.Millisecond)
	v, err = s.View(ctx)
	require.NoError(t, err)
	assert.Nil(t, v.Game.ActiveQuestion.BuzzedTeam)
	assert.ErrorIs(t, s.ResetBuzzer(ctx), quiz.ErrBonusQuestion)

	require.NoError(t, s.ResolveBonus(ctx, false))

	got, err := st.Team(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, -quiz.FloorMaxStake, got.Score)

	g, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.Nil(t, g.ActiveQuestion)
	assert.True(t, g.Board[c].Questions[q].Used)

	assert.ErrorIs(t, s.ResolveBonus(ctx, true), quiz.ErrNotBonusQuestion)
}

func TestStakeAllIn(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A")
	a := teams[0]
	require.NoError(t, s.Award(ctx, a.ID, 800))

	c, q := findCell(t, s, true)
	require.NoError(t, s.Select(ctx, c, q))
	assert.ErrorIs(t, s.ConfirmStake(ctx, a.ID, 801), quiz.ErrStakeOutOfRange)
	require.NoError(t, s.ConfirmStake(ctx, a.ID, 800))
	require.NoError(t, s.ResolveBonus(ctx, true))

	got, err := st.Team(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1600, got.Score)
}

func TestCloseBonusAlwaysMarksUsed(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A")
	c, q := findCell(t, s, true)
	require.NoError(t, s.Select(ctx, c, q))
	require.NoError(t, s.ConfirmStake(ctx, teams[0].ID, quiz.MinStake))

	require.NoError(t, s.CloseQuestion(ctx, false))
	g, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.True(t, g.Board[c].Questions[q].Used)
}

func TestCancelStaking(t *testing.T) {
	ctx := context.Background()
	s, st, _ := startedHost(t, "A")
	c, q := findCell(t, s, true)

	before, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)

	require.NoError(t, s.Select(ctx, c, q))
	require.NoError(t, s.CancelStaking(ctx))

	v, err := s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScreenBoard, v.Screen)
	assert.ErrorIs(t, s.ConfirmStake(ctx, "any", 100), quiz.ErrNoStakingPending)

	after, err := st.Game(ctx, s.GameID())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnd(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A")

	require.NoError(t, s.End(ctx))
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}

	_, err := st.Game(ctx, s.GameID())
	assert.ErrorIs(t, err, quiz.ErrNotFound)
	_, err = st.Team(ctx, teams[0].ID)
	assert.ErrorIs(t, err, quiz.ErrNotFound)

	_, err = s.View(ctx)
	assert.ErrorIs(t, err, quiz.ErrGameEnded)
}

func TestSessionStopsWhenGameDeleted(t *testing.T) {
	s, st := newHost(t, feed.NewBroker(), time.Hour)
	require.NoError(t, st.DeleteGame(context.Background(), s.GameID()))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	s, st, teams := startedHost(t, "A")
	c, q := findCell(t, s, false)
	require.NoError(t, s.Select(ctx, c, q))
	s.Close()

	resumed, err := Resume(ctx, Deps{Store: st, Logger: slog.Default(), PollEvery: time.Hour}, s.GameID())
	require.NoError(t, err)
	defer resumed.Close()

	assert.Equal(t, s.HostID(), resumed.HostID())
	v, err := resumed.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScreenQuestion, v.Screen)
	require.Len(t, v.Teams, 1)
	assert.Equal(t, teams[0].ID, v.Teams[0].ID)

	_, err = Resume(ctx, Deps{Store: st, Logger: slog.Default()}, "NOPE00")
	assert.ErrorIs(t, err, quiz.ErrNotFound)
}
