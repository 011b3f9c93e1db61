package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dice-game-bot/internal/config"
	"dice-game-bot/internal/game/dice"
	"dice-game-bot/internal/metrics"
	"dice-game-bot/internal/model"
	"dice-game-bot/internal/pkg/lock"
)

func newTestEngine(store RoundStore, rolls ...int) *RoundEngine {
	var roller dice.Roller
	if len(rolls) > 0 {
		roller = &sequenceRoller{values: rolls}
	}
	return NewRoundEngine(store, roller, RoundConfig{}, lock.NewUserLock(), metrics.New(prometheus.NewRegistry()))
}

func TestPlayRound_Win(t *testing.T) {
	store := newMemStore()
	acc := store.add(model.Account{Phone: ptr("+15550001")})
	engine := newTestEngine(store, 6, 2)

	res, err := engine.PlayRound(context.Background(), acc.AccountID)
	require.NoError(t, err)

	assert.Equal(t, 6, res.UserScore)
	assert.Equal(t, 2, res.BotScore)
	assert.Equal(t, model.ResultWin, res.Result)
	assert.Equal(t, int64(10), res.PointsChange)
	assert.Equal(t, int64(10), res.TotalPoints)
	assert.Equal(t, 1, res.Plays)
	assert.Equal(t, 9, res.PlaysLeft)
	assert.Equal(t, "你赢了！+10 分", res.Message())

	stored := store.get(acc.AccountID)
	assert.Equal(t, int64(10), stored.Points)
	assert.Equal(t, 1, stored.Plays)
	require.NotNil(t, stored.LastPlay)

	history := store.historyFor(acc.AccountID)
	require.Len(t, history, 1)
	assert.Equal(t, 6, history[0].UserScore)
	assert.Equal(t, 2, history[0].BotScore)
	assert.Equal(t, model.ResultWin, history[0].Result)
	assert.Equal(t, int64(10), history[0].PointsChange)
	assert.Equal(t, *stored.LastPlay, history[0].CreatedAt)
}

func TestPlayRound_LoseAndDraw(t *testing.T) {
	store := newMemStore()
	acc := store.add(model.Account{Phone: ptr("+15550001"), Points: 3})
	engine := newTestEngine(store, 1, 4, 3, 3)

	res, err := engine.PlayRound(context.Background(), acc.AccountID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultLose, res.Result)
	assert.Equal(t, int64(-5), res.PointsChange)
	assert.Equal(t, int64(-2), res.TotalPoints, "points may go negative")

	res, err = engine.PlayRound(context.Background(), acc.AccountID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultDraw, res.Result)
	assert.Equal(t, int64(0), res.PointsChange)
	assert.Equal(t, int64(-2), res.TotalPoints)
	assert.Equal(t, 2, res.Plays)

	assert.Len(t, store.historyFor(acc.AccountID), 2)
}

func TestPlayRound_Eligibility(t *testing.T) {
	tests := []struct {
		name    string
		account model.Account
		want    error
	}{
		{
			name:    "blocked wins over everything",
			account: model.Account{IsBlocked: true, Plays: 10},
			want:    ErrBlocked,
		},
		{
			name:    "phone before limit",
			account: model.Account{Plays: 10},
			want:    ErrPhoneRequired,
		},
		{
			name:    "limit reached",
			account: model.Account{Phone: ptr("+15550001"), Plays: 10},
			want:    ErrLimitReached,
		},
		{
			name:    "over limit",
			account: model.Account{Phone: ptr("+15550001"), Plays: 12},
			want:    ErrLimitReached,
		},
		{
			name:    "last allowed play",
			account: model.Account{Phone: ptr("+15550001"), Plays: 9},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			acc := store.add(tt.account)
			before := store.get(acc.AccountID)
			engine := newTestEngine(store, 5, 5)

			res, err := engine.PlayRound(context.Background(), acc.AccountID)
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, 10, res.Plays)
				assert.Equal(t, 0, res.PlaysLeft)
				return
			}

			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
			assert.True(t, IsEligibilityOutcome(err))
			assert.Equal(t, before, store.get(acc.AccountID))
			assert.Empty(t, store.historyFor(acc.AccountID))
		})
	}
}

func TestPlayRound_NotRegistered(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, 6, 1)

	res, err := engine.PlayRound(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotRegistered)
	assert.Nil(t, res)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.accounts, "no account may be created implicitly")
	assert.Empty(t, store.history)
}

func TestPlayRound_StorageFailureRollsBack(t *testing.T) {
	store := newMemStore()
	acc := store.add(model.Account{Phone: ptr("+15550001"), Points: 7, Plays: 2})
	before := store.get(acc.AccountID)

	injected := errors.New("connection reset")
	store.failRecord = injected
	engine := newTestEngine(store, 6, 1)

	res, err := engine.PlayRound(context.Background(), acc.AccountID)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsSystemError(err))
	assert.ErrorIs(t, err, injected)
	assert.False(t, IsEligibilityOutcome(err))

	assert.Equal(t, before, store.get(acc.AccountID))
	assert.Empty(t, store.historyFor(acc.AccountID))
}

func TestPlayRound_ReadFailureIsSystemError(t *testing.T) {
	store := newMemStore()
	store.failReads = errors.New("pool closed")
	engine := newTestEngine(store, 6, 1)

	_, err := engine.PlayRound(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsSystemError(err))
	assert.NotErrorIs(t, err, ErrNotRegistered)
}

func TestPlayRound_InvalidRollAborts(t *testing.T) {
	store := newMemStore()
	acc := store.add(model.Account{Phone: ptr("+15550001")})
	engine := newTestEngine(store, 7, 1)

	_, err := engine.PlayRound(context.Background(), acc.AccountID)
	require.Error(t, err)
	assert.True(t, IsSystemError(err))
	assert.ErrorIs(t, err, dice.ErrInvalidDice)
	assert.Equal(t, 0, store.get(acc.AccountID).Plays)
}

func TestPlayRound_LimitPolicies(t *testing.T) {
	now := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	yesterday := now.Add(-12 * time.Hour)
	earlierToday := now.Add(-time.Hour)

	tests := []struct {
		name      string
		policy    string
		lastPlay  time.Time
		wantErr   error
		wantPlays int
	}{
		{"lifetime never resets", config.LimitLifetime, yesterday, ErrLimitReached, 10},
		{"daily resets after midnight", config.LimitDaily, yesterday, nil, 1},
		{"daily keeps today's count", config.LimitDaily, earlierToday, ErrLimitReached, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			last := tt.lastPlay
			acc := store.add(model.Account{Phone: ptr("+15550001"), Plays: 10, LastPlay: &last})

			engine := NewRoundEngine(store, &sequenceRoller{values: []int{4, 2}}, RoundConfig{LimitPolicy: tt.policy}, nil, nil)
			engine.now = func() time.Time { return now }

			_, err := engine.PlayRound(context.Background(), acc.AccountID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantPlays, store.get(acc.AccountID).Plays)
		})
	}
}

func TestPlaysLeft_DailyUsesTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 23:30 UTC on June 1 is already June 2 in UTC+8.
	now := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	last := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	engine := NewRoundEngine(newMemStore(), nil, RoundConfig{LimitPolicy: config.LimitDaily, Location: loc}, nil, nil)
	engine.now = func() time.Time { return now }

	acc := &model.Account{Plays: 10, LastPlay: &last}
	assert.Equal(t, 10, engine.PlaysLeft(acc))

	engine.cfg.Location = time.UTC
	assert.Equal(t, 0, engine.PlaysLeft(acc))
}

func TestPlayRound_NotifiesBoundAccount(t *testing.T) {
	store := newMemStore()
	bound := store.add(model.Account{Phone: ptr("+15550001"), ExternalID: ptr(int64(777))})
	unbound := store.add(model.Account{Phone: ptr("+15550002")})

	n := &chanNotifier{ch: make(chan notification, 2)}
	engine := newTestEngine(store, 2, 6)
	engine.SetNotifier(n)

	_, err := engine.PlayRound(context.Background(), unbound.AccountID)
	require.NoError(t, err)
	res, err := engine.PlayRound(context.Background(), bound.AccountID)
	require.NoError(t, err)

	select {
	case got := <-n.ch:
		assert.Equal(t, int64(777), got.externalID)
		assert.Equal(t, res, got.result)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	select {
	case got := <-n.ch:
		t.Fatalf("unexpected notification for %d", got.externalID)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPlayRound_EligibilityProperty checks that the outcome depends only
// on (blocked, phone, plays) in that order, and that any refusal leaves
// the account unchanged.
func TestPlayRound_EligibilityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		blocked := rapid.Bool().Draw(t, "blocked")
		hasPhone := rapid.Bool().Draw(t, "hasPhone")
		plays := rapid.IntRange(0, 15).Draw(t, "plays")
		points := rapid.Int64Range(-1000, 1000).Draw(t, "points")
		userRoll := rapid.IntRange(1, 6).Draw(t, "userRoll")
		botRoll := rapid.IntRange(1, 6).Draw(t, "botRoll")

		acc := model.Account{IsBlocked: blocked, Plays: plays, Points: points}
		if hasPhone {
			acc.Phone = ptr("+15550001")
		}

		store := newMemStore()
		stored := store.add(acc)
		before := store.get(stored.AccountID)
		engine := NewRoundEngine(store, &sequenceRoller{values: []int{userRoll, botRoll}}, RoundConfig{}, nil, nil)

		res, err := engine.PlayRound(context.Background(), stored.AccountID)

		var want error
		switch {
		case blocked:
			want = ErrBlocked
		case !hasPhone:
			want = ErrPhoneRequired
		case plays >= DefaultMaxPlays:
			want = ErrLimitReached
		}

		if want != nil {
			if !errors.Is(err, want) {
				t.Fatalf("expected %v, got %v", want, err)
			}
			if store.get(stored.AccountID) != before {
				t.Fatal("refused round changed the account")
			}
			if len(store.historyFor(stored.AccountID)) != 0 {
				t.Fatal("refused round wrote history")
			}
			return
		}

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		wantResult, wantChange := dice.DefaultScoring().Judge(userRoll, botRoll)
		if res.Result != wantResult || res.PointsChange != wantChange {
			t.Fatalf("got %s %+d, want %s %+d", res.Result, res.PointsChange, wantResult, wantChange)
		}
		after := store.get(stored.AccountID)
		if after.Points != points+wantChange || after.Plays != plays+1 {
			t.Fatalf("account after round: points=%d plays=%d", after.Points, after.Plays)
		}
		if len(store.historyFor(stored.AccountID)) != 1 {
			t.Fatal("expected exactly one history entry")
		}
	})
}

// TestPlayRound_ConcurrentProperty fires N concurrent rounds at one
// account: exactly min(N, cap) succeed, the rest are refused, and the
// history agrees with the counters.
func TestPlayRound_ConcurrentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(t, "requests")
		rolls := rapid.SliceOfN(rapid.IntRange(1, 6), 2, 10).Draw(t, "rolls")
		useLocks := rapid.Bool().Draw(t, "useLocks")

		store := newMemStore()
		acc := store.add(model.Account{Phone: ptr("+15550001")})

		var locks *lock.UserLock
		if useLocks {
			locks = lock.NewUserLock()
		}
		engine := NewRoundEngine(store, &sequenceRoller{values: rolls}, RoundConfig{}, locks, nil)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			played   int
			refused  int
			otherErr error
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := engine.PlayRound(context.Background(), acc.AccountID)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					played++
				case errors.Is(err, ErrLimitReached):
					refused++
				default:
					otherErr = err
				}
			}()
		}
		wg.Wait()

		if otherErr != nil {
			t.Fatalf("unexpected error: %v", otherErr)
		}
		want := min(n, DefaultMaxPlays)
		if played != want || refused != n-want {
			t.Fatalf("played=%d refused=%d, want %d/%d", played, refused, want, n-want)
		}

		after := store.get(acc.AccountID)
		history := store.historyFor(acc.AccountID)
		if after.Plays != want || len(history) != want {
			t.Fatalf("plays=%d history=%d, want %d", after.Plays, len(history), want)
		}
		var sum int64
		for _, e := range history {
			sum += e.PointsChange
		}
		if after.Points != sum {
			t.Fatalf("points=%d, history sum=%d", after.Points, sum)
		}
	})
}
