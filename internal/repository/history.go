package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"dice-game-bot/internal/model"
)

const historyColumns = `id, account_id, created_at, user_score, bot_score, result, points_change`

// HistoryRepository handles the append-only round history.
// Rows are only ever inserted inside a round transaction.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository creates a new HistoryRepository instance.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// append inserts one history entry using q, normally the round transaction.
func (r *HistoryRepository) append(ctx context.Context, q Querier, entry *model.HistoryEntry) error {
	const query = `
		INSERT INTO game_history (account_id, created_at, user_score, bot_score, result, points_change)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := q.QueryRow(ctx, query,
		entry.AccountID,
		entry.CreatedAt,
		entry.UserScore,
		entry.BotScore,
		string(entry.Result),
		entry.PointsChange,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListByAccount returns an account's rounds, newest first.
func (r *HistoryRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*model.HistoryEntry, error) {
	const query = `
		SELECT ` + historyColumns + `
		FROM game_history
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var entries []*model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var result string
		err := rows.Scan(
			&e.ID,
			&e.AccountID,
			&e.CreatedAt,
			&e.UserScore,
			&e.BotScore,
			&result,
			&e.PointsChange,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Result = model.Result(result)
		if !e.Result.Valid() {
			return nil, fmt.Errorf("history entry %d has unknown result %q", e.ID, result)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}

// CountByAccount returns the number of rounds recorded for an account.
func (r *HistoryRepository) CountByAccount(ctx context.Context, accountID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM game_history WHERE account_id = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, accountID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}
