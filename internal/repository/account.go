// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dice-game-bot/internal/model"
)

// Common errors for account operations.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAlreadyBound       = errors.New("external id already bound to an account")
	ErrNoAccountAvailable = errors.New("no unbound account available")
)

const accountColumns = `account_id, external_id, phone, points, plays, is_blocked, last_play, created_at`

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.AccountID,
		&a.ExternalID,
		&a.Phone,
		&a.Points,
		&a.Plays,
		&a.IsBlocked,
		&a.LastPlay,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// RoundUpdate is the account mutation applied by one played round.
type RoundUpdate struct {
	PointsChange int64
	PlayedAt     time.Time
	// ResetPlays starts the play counter over at 1 instead of incrementing it.
	ResetPlays bool
}

// AccountRepository handles account persistence.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository instance.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create provisions a new unbound account with zero points and plays.
// phone may be nil.
func (r *AccountRepository) Create(ctx context.Context, phone *string) (*model.Account, error) {
	const query = `
		INSERT INTO accounts (phone, points, plays, is_blocked, created_at)
		VALUES ($1, 0, 0, FALSE, NOW())
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.pool.QueryRow(ctx, query, phone))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acc, nil
}

// GetByID retrieves an account by its id.
// Returns ErrAccountNotFound if the account does not exist.
func (r *AccountRepository) GetByID(ctx context.Context, accountID int64) (*model.Account, error) {
	return getAccountByID(ctx, r.pool, accountID, false)
}

// GetByExternalID retrieves the account bound to a Telegram user id.
// Returns ErrAccountNotFound if no account carries that id.
func (r *AccountRepository) GetByExternalID(ctx context.Context, externalID int64) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE external_id = $1`

	acc, err := scanAccount(r.pool.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by external id: %w", err)
	}
	return acc, nil
}

// FirstPlayable returns the oldest account that has a phone and is not
// blocked. Returns ErrAccountNotFound when there is none.
func (r *AccountRepository) FirstPlayable(ctx context.Context) (*model.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE phone IS NOT NULL AND is_blocked = FALSE
		ORDER BY created_at ASC, account_id ASC
		LIMIT 1
	`

	acc, err := scanAccount(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get playable account: %w", err)
	}
	return acc, nil
}

// SetBlocked sets or clears the block flag.
func (r *AccountRepository) SetBlocked(ctx context.Context, accountID int64, blocked bool) (*model.Account, error) {
	const query = `
		UPDATE accounts SET is_blocked = $2
		WHERE account_id = $1
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.pool.QueryRow(ctx, query, accountID, blocked))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to set blocked: %w", err)
	}
	return acc, nil
}

// SetPhoneByExternalID stores the phone number on the account bound to
// the given Telegram user id.
func (r *AccountRepository) SetPhoneByExternalID(ctx context.Context, externalID int64, phone string) (*model.Account, error) {
	const query = `
		UPDATE accounts SET phone = $2
		WHERE external_id = $1
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.pool.QueryRow(ctx, query, externalID, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to set phone: %w", err)
	}
	return acc, nil
}

// Bind attaches externalID to the oldest unbound account.
//
// The candidate row is locked with FOR UPDATE SKIP LOCKED, so two
// concurrent binds never claim the same account, and the UNIQUE
// constraint on external_id stops one caller from claiming two.
// Returns ErrAlreadyBound or ErrNoAccountAvailable.
func (r *AccountRepository) Bind(ctx context.Context, externalID int64) (*model.Account, error) {
	const existingQuery = `SELECT account_id FROM accounts WHERE external_id = $1`

	const claimQuery = `
		UPDATE accounts SET external_id = $1
		WHERE account_id = (
			SELECT account_id FROM accounts
			WHERE external_id IS NULL
			ORDER BY created_at ASC, account_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND external_id IS NULL
		RETURNING ` + accountColumns

	var claimed *model.Account
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		var existing int64
		err := tx.QueryRow(ctx, existingQuery, externalID).Scan(&existing)
		if err == nil {
			return ErrAlreadyBound
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to check existing binding: %w", err)
		}

		acc, err := scanAccount(tx.QueryRow(ctx, claimQuery, externalID))
		if err != nil {
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				return ErrNoAccountAvailable
			case isUniqueViolation(err):
				return ErrAlreadyBound
			}
			return fmt.Errorf("failed to claim account: %w", err)
		}
		claimed = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// lockByID loads an account and holds a row lock on it until tx ends.
func (r *AccountRepository) lockByID(ctx context.Context, tx pgx.Tx, accountID int64) (*model.Account, error) {
	return getAccountByID(ctx, tx, accountID, true)
}

// applyRound adds the round's points, bumps the play counter and stamps
// last_play in one statement. It returns the new points total as seen by
// tx.
func (r *AccountRepository) applyRound(ctx context.Context, q Querier, accountID int64, u RoundUpdate) (int64, error) {
	const query = `
		UPDATE accounts
		SET points = points + $2,
			plays = CASE WHEN $3::boolean THEN 1 ELSE plays + 1 END,
			last_play = $4
		WHERE account_id = $1
		RETURNING points
	`

	var total int64
	err := q.QueryRow(ctx, query, accountID, u.PointsChange, u.ResetPlays, u.PlayedAt).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to apply round: %w", err)
	}
	return total, nil
}

func getAccountByID(ctx context.Context, q Querier, accountID int64, forUpdate bool) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	acc, err := scanAccount(q.QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}
