package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dice-game-bot/internal/model"
)

// RoundWriter persists a round inside the transaction that holds the
// account lock.
type RoundWriter interface {
	// RecordRound applies the account update, appends entry and returns
	// the account's new points total.
	RecordRound(ctx context.Context, update RoundUpdate, entry *model.HistoryEntry) (int64, error)
}

// RoundFunc inspects the locked account and optionally records a round.
// Returning an error rolls the whole transaction back.
type RoundFunc func(ctx context.Context, acc *model.Account, w RoundWriter) error

// RoundStore runs the round read-validate-mutate sequence in a single
// transaction with a row lock on the account.
type RoundStore struct {
	pool     *pgxpool.Pool
	accounts *AccountRepository
	history  *HistoryRepository
}

// NewRoundStore creates a new RoundStore instance.
func NewRoundStore(pool *pgxpool.Pool, accounts *AccountRepository, history *HistoryRepository) *RoundStore {
	return &RoundStore{pool: pool, accounts: accounts, history: history}
}

// WithLockedAccount loads the account with SELECT ... FOR UPDATE and calls
// fn while the lock is held. Concurrent callers for the same account are
// serialized by the database. Returns ErrAccountNotFound when the account
// does not exist.
func (s *RoundStore) WithLockedAccount(ctx context.Context, accountID int64, fn RoundFunc) error {
	return runInTx(ctx, s.pool, func(tx pgx.Tx) error {
		acc, err := s.accounts.lockByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		return fn(ctx, acc, &txRoundWriter{tx: tx, accountID: accountID, store: s})
	})
}

type txRoundWriter struct {
	tx        pgx.Tx
	accountID int64
	store     *RoundStore
}

func (w *txRoundWriter) RecordRound(ctx context.Context, update RoundUpdate, entry *model.HistoryEntry) (int64, error) {
	total, err := w.store.accounts.applyRound(ctx, w.tx, w.accountID, update)
	if err != nil {
		return 0, err
	}

	entry.AccountID = w.accountID
	entry.CreatedAt = update.PlayedAt
	if err := w.store.history.append(ctx, w.tx, entry); err != nil {
		return 0, err
	}

	return total, nil
}
