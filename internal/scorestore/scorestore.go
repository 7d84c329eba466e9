// Package scorestore persists wallet profiles and their reputation scores.
// Users are keyed by wallet address; scores are keyed by wallet address and
// category, with a source label recording how each value was written.
package scorestore

import (
	"context"
	"errors"
)

var (
	// ErrUserNotFound indicates no profile exists for the wallet address.
	ErrUserNotFound = errors.New("scorestore.user_not_found")
	// ErrScoreNotFound indicates no score exists for the wallet/category pair.
	ErrScoreNotFound = errors.New("scorestore.score_not_found")
	// ErrEmptyWalletAddress indicates a blank wallet address was supplied.
	ErrEmptyWalletAddress = errors.New("scorestore.empty_wallet_address")
	// ErrEmptyCategory indicates a blank score category was supplied.
	ErrEmptyCategory = errors.New("scorestore.empty_category")
)

// ScoreSource labels the origin of a score write.
type ScoreSource string

const (
	SourceManual        ScoreSource = "manual"
	SourceSync          ScoreSource = "sync"
	SourceChainCallback ScoreSource = "chain_callback"
)

// UserRecord is the durable profile for one wallet address, carrying the
// linked identity for each provider.
type UserRecord struct {
	WalletAddress   string
	GitHubUsername  string
	GitHubVerified  bool
	DiscordUsername string
	DiscordVerified bool
	XUsername       string
	XVerified       bool
	UpdatedAtUnix   int64
}

// SetLink marks a provider as linked with the given username.
func (user *UserRecord) SetLink(provider string, username string) {
	switch provider {
	case "github":
		user.GitHubUsername = username
		user.GitHubVerified = true
	case "discord":
		user.DiscordUsername = username
		user.DiscordVerified = true
	case "x":
		user.XUsername = username
		user.XVerified = true
	}
}

// ClearLink removes the linked identity for a provider.
func (user *UserRecord) ClearLink(provider string) {
	switch provider {
	case "github":
		user.GitHubUsername = ""
		user.GitHubVerified = false
	case "discord":
		user.DiscordUsername = ""
		user.DiscordVerified = false
	case "x":
		user.XUsername = ""
		user.XVerified = false
	}
}

// Link returns the username and verified flag for a provider.
func (user *UserRecord) Link(provider string) (string, bool) {
	switch provider {
	case "github":
		return user.GitHubUsername, user.GitHubVerified
	case "discord":
		return user.DiscordUsername, user.DiscordVerified
	case "x":
		return user.XUsername, user.XVerified
	default:
		return "", false
	}
}

// ScoreRecord is one stored score value for a wallet and category.
type ScoreRecord struct {
	WalletAddress string
	Category      string
	Value         int64
	Source        ScoreSource
	UpdatedAtUnix int64
}

// UserStore persists wallet profiles. UpdateUser creates the profile when it
// does not exist yet.
type UserStore interface {
	FindUser(ctx context.Context, walletAddress string) (UserRecord, error)
	UpdateUser(ctx context.Context, user UserRecord) error
}

// ScoreStore persists per-category score values.
type ScoreStore interface {
	GetScore(ctx context.Context, walletAddress string, category string) (ScoreRecord, error)
	UpsertScore(ctx context.Context, score ScoreRecord) error
	ListScores(ctx context.Context, walletAddress string) ([]ScoreRecord, error)
}

// Store is the combined persistence surface the server wires.
type Store interface {
	UserStore
	ScoreStore
}
