package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is the subset of pgxpool.Pool used to apply migrations.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "accounts table",
		sql: `
		CREATE TABLE IF NOT EXISTS accounts (
			account_id BIGSERIAL PRIMARY KEY,
			external_id BIGINT UNIQUE,
			phone VARCHAR(32),
			points BIGINT NOT NULL DEFAULT 0,
			plays INT NOT NULL DEFAULT 0 CHECK (plays >= 0),
			is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			last_play TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_unbound
			ON accounts(created_at, account_id) WHERE external_id IS NULL;
		`,
	},
	{
		name: "game_history table",
		sql: `
		CREATE TABLE IF NOT EXISTS game_history (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(account_id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			user_score SMALLINT NOT NULL CHECK (user_score BETWEEN 1 AND 6),
			bot_score SMALLINT NOT NULL CHECK (bot_score BETWEEN 1 AND 6),
			result VARCHAR(8) NOT NULL CHECK (result IN ('WIN', 'LOSE', 'DRAW')),
			points_change BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_game_history_account_time
			ON game_history(account_id, created_at DESC);
		`,
	},
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db Execer) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
