package scorestorepg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS wallet_users (
    wallet_address TEXT PRIMARY KEY,
    github_username TEXT NOT NULL DEFAULT '',
    github_verified BOOLEAN NOT NULL DEFAULT FALSE,
    discord_username TEXT NOT NULL DEFAULT '',
    discord_verified BOOLEAN NOT NULL DEFAULT FALSE,
    x_username TEXT NOT NULL DEFAULT '',
    x_verified BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at_unix BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS wallet_scores (
    wallet_address TEXT NOT NULL,
    category TEXT NOT NULL,
    value BIGINT NOT NULL,
    source TEXT NOT NULL,
    updated_at_unix BIGINT NOT NULL,
    PRIMARY KEY (wallet_address, category)
);
CREATE INDEX IF NOT EXISTS idx_wallet_scores_wallet ON wallet_scores (wallet_address);
`)
	return err
}
