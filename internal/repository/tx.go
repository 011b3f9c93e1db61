package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Postgres SQLSTATE codes inspected by the repositories.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const (
	maxTxRetries       = 3
	txRetryInitialWait = 20 * time.Millisecond
	txRetryMaxWait     = 250 * time.Millisecond
)

// ErrTxConflict is returned when a transaction kept failing with
// serialization or deadlock errors after all retries.
var ErrTxConflict = errors.New("transaction conflict: retries exhausted")

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so read helpers
// can run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner starts transactions. *pgxpool.Pool implements it.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// runInTx runs fn in a read-committed transaction. Any error from fn rolls
// the transaction back. Serialization failures and deadlocks are retried
// with exponential backoff; every other error is returned as-is.
func runInTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = txRetryInitialWait
	eb.MaxInterval = txRetryMaxWait

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, maxTxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := pgx.BeginTxFunc(ctx, db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Retrying conflicting transaction")
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if err != nil && isRetryable(err) {
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
