package scorestorepg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainrep/chainrep/internal/scorestore"
)

// PostgresStore persists wallet users and scores directly through pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FindUser returns the profile for a wallet address.
func (store *PostgresStore) FindUser(ctx context.Context, walletAddress string) (scorestore.UserRecord, error) {
	if walletAddress == "" {
		return scorestore.UserRecord{}, scorestore.ErrEmptyWalletAddress
	}
	var user scorestore.UserRecord
	row := store.pool.QueryRow(ctx, `
SELECT wallet_address, github_username, github_verified, discord_username, discord_verified, x_username, x_verified, updated_at_unix
FROM wallet_users
WHERE wallet_address = $1
`, walletAddress)
	scanErr := row.Scan(&user.WalletAddress,
		&user.GitHubUsername, &user.GitHubVerified,
		&user.DiscordUsername, &user.DiscordVerified,
		&user.XUsername, &user.XVerified,
		&user.UpdatedAtUnix)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return scorestore.UserRecord{}, fmt.Errorf("score_store.find_user.pgx: %w", scorestore.ErrUserNotFound)
		}
		return scorestore.UserRecord{}, fmt.Errorf("score_store.find_user.pgx: %w", scanErr)
	}
	return user, nil
}

// UpdateUser writes the profile, creating it when absent.
func (store *PostgresStore) UpdateUser(ctx context.Context, user scorestore.UserRecord) error {
	if user.WalletAddress == "" {
		return scorestore.ErrEmptyWalletAddress
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO wallet_users (wallet_address, github_username, github_verified, discord_username, discord_verified, x_username, x_verified, updated_at_unix)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (wallet_address) DO UPDATE SET
    github_username = EXCLUDED.github_username,
    github_verified = EXCLUDED.github_verified,
    discord_username = EXCLUDED.discord_username,
    discord_verified = EXCLUDED.discord_verified,
    x_username = EXCLUDED.x_username,
    x_verified = EXCLUDED.x_verified,
    updated_at_unix = EXCLUDED.updated_at_unix
`, user.WalletAddress,
		user.GitHubUsername, user.GitHubVerified,
		user.DiscordUsername, user.DiscordVerified,
		user.XUsername, user.XVerified,
		time.Now().UTC().Unix())
	if execErr != nil {
		return fmt.Errorf("score_store.update_user.pgx: %w", execErr)
	}
	return nil
}

// GetScore returns the stored score for a wallet/category pair.
func (store *PostgresStore) GetScore(ctx context.Context, walletAddress string, category string) (scorestore.ScoreRecord, error) {
	if walletAddress == "" {
		return scorestore.ScoreRecord{}, scorestore.ErrEmptyWalletAddress
	}
	if category == "" {
		return scorestore.ScoreRecord{}, scorestore.ErrEmptyCategory
	}
	var score scorestore.ScoreRecord
	var source string
	row := store.pool.QueryRow(ctx, `
SELECT wallet_address, category, value, source, updated_at_unix
FROM wallet_scores
WHERE wallet_address = $1 AND category = $2
`, walletAddress, category)
	scanErr := row.Scan(&score.WalletAddress, &score.Category, &score.Value, &source, &score.UpdatedAtUnix)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return scorestore.ScoreRecord{}, fmt.Errorf("score_store.get_score.pgx: %w", scorestore.ErrScoreNotFound)
		}
		return scorestore.ScoreRecord{}, fmt.Errorf("score_store.get_score.pgx: %w", scanErr)
	}
	score.Source = scorestore.ScoreSource(source)
	return score, nil
}

// UpsertScore writes a score value, replacing any prior value for the pair.
func (store *PostgresStore) UpsertScore(ctx context.Context, score scorestore.ScoreRecord) error {
	if score.WalletAddress == "" {
		return scorestore.ErrEmptyWalletAddress
	}
	if score.Category == "" {
		return scorestore.ErrEmptyCategory
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO wallet_scores (wallet_address, category, value, source, updated_at_unix)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (wallet_address, category) DO UPDATE SET
    value = EXCLUDED.value,
    source = EXCLUDED.source,
    updated_at_unix = EXCLUDED.updated_at_unix
`, score.WalletAddress, score.Category, score.Value, string(score.Source), time.Now().UTC().Unix())
	if execErr != nil {
		return fmt.Errorf("score_store.upsert_score.pgx: %w", execErr)
	}
	return nil
}

// ListScores returns every stored score for a wallet, ordered by category.
func (store *PostgresStore) ListScores(ctx context.Context, walletAddress string) ([]scorestore.ScoreRecord, error) {
	if walletAddress == "" {
		return nil, scorestore.ErrEmptyWalletAddress
	}
	rows, queryErr := store.pool.Query(ctx, `
SELECT wallet_address, category, value, source, updated_at_unix
FROM wallet_scores
WHERE wallet_address = $1
ORDER BY category ASC
`, walletAddress)
	if queryErr != nil {
		return nil, fmt.Errorf("score_store.list_scores.pgx: %w", queryErr)
	}
	defer rows.Close()

	var scores []scorestore.ScoreRecord
	for rows.Next() {
		var score scorestore.ScoreRecord
		var source string
		if scanErr := rows.Scan(&score.WalletAddress, &score.Category, &score.Value, &source, &score.UpdatedAtUnix); scanErr != nil {
			return nil, fmt.Errorf("score_store.list_scores.pgx: %w", scanErr)
		}
		score.Source = scorestore.ScoreSource(source)
		scores = append(scores, score)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("score_store.list_scores.pgx: %w", rowsErr)
	}
	return scores, nil
}
