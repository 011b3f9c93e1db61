package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"dice-game-bot/internal/config"
	"dice-game-bot/internal/game/dice"
	"dice-game-bot/internal/metrics"
	"dice-game-bot/internal/model"
	"dice-game-bot/internal/pkg/db"
	"dice-game-bot/internal/pkg/lock"
	"dice-game-bot/internal/repository"
)

// DefaultMaxPlays is the play cap when none is configured.
const DefaultMaxPlays = 10

// notifyTimeout bounds a single round notification.
const notifyTimeout = 5 * time.Second

// RoundStore is the transactional storage contract of the round engine.
type RoundStore interface {
	WithLockedAccount(ctx context.Context, accountID int64, fn repository.RoundFunc) error
}

// Notifier delivers a round result to the player's chat.
type Notifier interface {
	NotifyRound(ctx context.Context, externalID int64, result *RoundResult) error
}

// RoundConfig holds the round engine settings.
type RoundConfig struct {
	MaxPlays    int
	LimitPolicy string
	Location    *time.Location
	Timeout     time.Duration
	Scoring     dice.Scoring
}

// RoundConfigFrom builds a RoundConfig from the game configuration.
func RoundConfigFrom(cfg *config.GameConfig) RoundConfig {
	return RoundConfig{
		MaxPlays:    cfg.MaxPlays,
		LimitPolicy: cfg.LimitPolicy,
		Location:    cfg.Location(),
		Timeout:     cfg.RoundTimeout,
		Scoring:     dice.Scoring{WinPoints: cfg.WinPoints, LosePoints: cfg.LosePoints},
	}
}

// RoundResult is the outcome of one committed round.
type RoundResult struct {
	AccountID    int64
	UserScore    int
	BotScore     int
	Result       model.Result
	PointsChange int64
	TotalPoints  int64
	Plays        int
	PlaysLeft    int
	PlayedAt     time.Time
}

// Message renders the player-facing summary, e.g. "你赢了！+10 分".
func (r *RoundResult) Message() string {
	return dice.Message(r.Result, r.PointsChange)
}

// RoundEngine plays dice rounds against the bot.
type RoundEngine struct {
	store    RoundStore
	roller   dice.Roller
	cfg      RoundConfig
	locks    *lock.UserLock
	metrics  *metrics.Metrics
	notifier Notifier
	now      func() time.Time
}

// NewRoundEngine creates a new RoundEngine instance.
// locks is keyed by account id and may be shared with nothing else.
func NewRoundEngine(store RoundStore, roller dice.Roller, cfg RoundConfig, locks *lock.UserLock, m *metrics.Metrics) *RoundEngine {
	if roller == nil {
		roller = dice.RandomRoller{}
	}
	if cfg.MaxPlays <= 0 {
		cfg.MaxPlays = DefaultMaxPlays
	}
	if cfg.LimitPolicy == "" {
		cfg.LimitPolicy = config.LimitLifetime
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Scoring == (dice.Scoring{}) {
		cfg.Scoring = dice.DefaultScoring()
	}
	return &RoundEngine{
		store:   store,
		roller:  roller,
		cfg:     cfg,
		locks:   locks,
		metrics: m,
		now:     time.Now,
	}
}

// SetNotifier attaches a notifier told about every committed round for a
// bound account. Notification failures are logged and never affect the round.
func (e *RoundEngine) SetNotifier(n Notifier) {
	e.notifier = n
}

// MaxPlays returns the configured play cap.
func (e *RoundEngine) MaxPlays() int {
	return e.cfg.MaxPlays
}

// PlaysLeft returns how many rounds acc may still play at the current time.
func (e *RoundEngine) PlaysLeft(acc *model.Account) int {
	plays, _ := e.effectivePlays(acc, e.now())
	return max(e.cfg.MaxPlays-plays, 0)
}

// PlayRound plays one round for the account.
//
// The account is loaded, validated and updated inside one transaction
// holding its row lock, so concurrent rounds for the same account are
// serialized. Eligibility failures (ErrNotRegistered, ErrBlocked,
// ErrPhoneRequired, ErrLimitReached) leave the account untouched. Storage
// failures are returned as *SystemError after rollback.
func (e *RoundEngine) PlayRound(ctx context.Context, accountID int64) (*RoundResult, error) {
	start := time.Now()
	res, externalID, err := e.playRound(ctx, accountID)

	var resultLabel string
	if res != nil {
		resultLabel = string(res.Result)
	}
	e.metrics.ObserveRound(outcomeLabel(err), resultLabel, time.Since(start))

	if err != nil {
		if IsSystemError(err) {
			log.Error().Err(err).Int64("account_id", accountID).Msg("Round failed")
		}
		return nil, err
	}

	log.Debug().
		Int64("account_id", accountID).
		Int("user_score", res.UserScore).
		Int("bot_score", res.BotScore).
		Str("result", string(res.Result)).
		Int64("total_points", res.TotalPoints).
		Msg("Round played")

	if externalID != nil {
		e.notify(*externalID, res)
	}
	return res, nil
}

func (e *RoundEngine) playRound(ctx context.Context, accountID int64) (*RoundResult, *int64, error) {
	ctx, cancel := db.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	if e.locks != nil {
		if err := e.locks.LockContext(ctx, accountID); err != nil {
			return nil, nil, &SystemError{Op: "play round", Err: err}
		}
		defer e.locks.Unlock(accountID)
	}

	var (
		result     *RoundResult
		externalID *int64
	)
	err := e.store.WithLockedAccount(ctx, accountID, func(ctx context.Context, acc *model.Account, w repository.RoundWriter) error {
		now := e.now()

		resetPlays, err := e.checkEligibility(acc, now)
		if err != nil {
			return err
		}

		userScore, botScore := e.roller.Roll(), e.roller.Roll()
		if err := dice.Validate(userScore); err != nil {
			return err
		}
		if err := dice.Validate(botScore); err != nil {
			return err
		}

		outcome, change := e.cfg.Scoring.Judge(userScore, botScore)
		entry := &model.HistoryEntry{
			UserScore:    userScore,
			BotScore:     botScore,
			Result:       outcome,
			PointsChange: change,
		}

		total, err := w.RecordRound(ctx, repository.RoundUpdate{
			PointsChange: change,
			PlayedAt:     now,
			ResetPlays:   resetPlays,
		}, entry)
		if err != nil {
			return err
		}

		plays := acc.Plays + 1
		if resetPlays {
			plays = 1
		}
		result = &RoundResult{
			AccountID:    accountID,
			UserScore:    userScore,
			BotScore:     botScore,
			Result:       outcome,
			PointsChange: change,
			TotalPoints:  total,
			Plays:        plays,
			PlaysLeft:    max(e.cfg.MaxPlays-plays, 0),
			PlayedAt:     now,
		}
		externalID = acc.ExternalID
		return nil
	})

	switch {
	case err == nil:
		return result, externalID, nil
	case errors.Is(err, repository.ErrAccountNotFound):
		return nil, nil, ErrNotRegistered
	case IsEligibilityOutcome(err):
		return nil, nil, err
	default:
		return nil, nil, &SystemError{Op: "play round", Err: err}
	}
}

// checkEligibility applies the checks in order: blocked, phone, limit.
// It reports whether the play counter should restart for this round.
func (e *RoundEngine) checkEligibility(acc *model.Account, now time.Time) (bool, error) {
	if acc.IsBlocked {
		return false, ErrBlocked
	}
	if !acc.HasPhone() {
		return false, ErrPhoneRequired
	}
	plays, reset := e.effectivePlays(acc, now)
	if plays >= e.cfg.MaxPlays {
		return false, ErrLimitReached
	}
	return reset, nil
}

// effectivePlays returns the play count that counts against the cap.
// Under the daily policy a count from before today's midnight (in the
// configured timezone) is treated as zero and reset is true.
func (e *RoundEngine) effectivePlays(acc *model.Account, now time.Time) (plays int, reset bool) {
	if e.cfg.LimitPolicy != config.LimitDaily || acc.LastPlay == nil || acc.Plays == 0 {
		return acc.Plays, false
	}
	if acc.LastPlay.Before(startOfDay(now, e.cfg.Location)) {
		return 0, true
	}
	return acc.Plays, false
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func (e *RoundEngine) notify(externalID int64, res *RoundResult) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.NotifyRound(ctx, externalID, res); err != nil {
			log.Warn().Err(err).Int64("external_id", externalID).Msg("Failed to notify round result")
		}
	}()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "played"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrPhoneRequired):
		return "phone_required"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	default:
		return "system_error"
	}
}
