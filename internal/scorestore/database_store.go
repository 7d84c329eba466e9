package scorestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/chainrep/chainrep/internal/dbkit"
)

// DatabaseStore persists users and scores using GORM. The database URL scheme
// selects the driver: postgres for deployments, sqlite for dev and tests.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
}

type userRecord struct {
	WalletAddress   string `gorm:"column:wallet_address;primaryKey"`
	GitHubUsername  string `gorm:"column:github_username;not null;default:''"`
	GitHubVerified  bool   `gorm:"column:github_verified;not null;default:false"`
	DiscordUsername string `gorm:"column:discord_username;not null;default:''"`
	DiscordVerified bool   `gorm:"column:discord_verified;not null;default:false"`
	XUsername       string `gorm:"column:x_username;not null;default:''"`
	XVerified       bool   `gorm:"column:x_verified;not null;default:false"`
	UpdatedAtUnix   int64  `gorm:"column:updated_at_unix;not null"`
}

func (userRecord) TableName() string {
	return "wallet_users"
}

type scoreRecord struct {
	WalletAddress string `gorm:"column:wallet_address;primaryKey"`
	Category      string `gorm:"column:category;primaryKey"`
	Value         int64  `gorm:"column:value;not null"`
	Source        string `gorm:"column:source;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (scoreRecord) TableName() string {
	return "wallet_scores"
}

// NewDatabaseStore opens the database and migrates both tables.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	dialector, driverLabel, err := dbkit.ResolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("score_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}, &scoreRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("score_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

// FindUser returns the profile for a wallet address.
func (store *DatabaseStore) FindUser(ctx context.Context, walletAddress string) (UserRecord, error) {
	if strings.TrimSpace(walletAddress) == "" {
		return UserRecord{}, fmt.Errorf("score_store.find_user.%s: %w", store.driverLabel, ErrEmptyWalletAddress)
	}
	var record userRecord
	err := store.db.WithContext(ctx).Where("wallet_address = ?", walletAddress).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserRecord{}, fmt.Errorf("score_store.find_user.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return UserRecord{}, fmt.Errorf("score_store.find_user.%s: %w", store.driverLabel, err)
	}
	return UserRecord{
		WalletAddress:   record.WalletAddress,
		GitHubUsername:  record.GitHubUsername,
		GitHubVerified:  record.GitHubVerified,
		DiscordUsername: record.DiscordUsername,
		DiscordVerified: record.DiscordVerified,
		XUsername:       record.XUsername,
		XVerified:       record.XVerified,
		UpdatedAtUnix:   record.UpdatedAtUnix,
	}, nil
}

// UpdateUser writes the profile, creating it when absent.
func (store *DatabaseStore) UpdateUser(ctx context.Context, user UserRecord) error {
	if strings.TrimSpace(user.WalletAddress) == "" {
		return fmt.Errorf("score_store.update_user.%s: %w", store.driverLabel, ErrEmptyWalletAddress)
	}
	record := userRecord{
		WalletAddress:   user.WalletAddress,
		GitHubUsername:  user.GitHubUsername,
		GitHubVerified:  user.GitHubVerified,
		DiscordUsername: user.DiscordUsername,
		DiscordVerified: user.DiscordVerified,
		XUsername:       user.XUsername,
		XVerified:       user.XVerified,
		UpdatedAtUnix:   store.now().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("score_store.update_user.%s: %w", store.driverLabel, err)
	}
	return nil
}

// GetScore returns the stored score for a wallet/category pair.
func (store *DatabaseStore) GetScore(ctx context.Context, walletAddress string, category string) (ScoreRecord, error) {
	if strings.TrimSpace(walletAddress) == "" {
		return ScoreRecord{}, fmt.Errorf("score_store.get_score.%s: %w", store.driverLabel, ErrEmptyWalletAddress)
	}
	if strings.TrimSpace(category) == "" {
		return ScoreRecord{}, fmt.Errorf("score_store.get_score.%s: %w", store.driverLabel, ErrEmptyCategory)
	}
	var record scoreRecord
	err := store.db.WithContext(ctx).
		Where("wallet_address = ? AND category = ?", walletAddress, category).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ScoreRecord{}, fmt.Errorf("score_store.get_score.%s: %w", store.driverLabel, ErrScoreNotFound)
		}
		return ScoreRecord{}, fmt.Errorf("score_store.get_score.%s: %w", store.driverLabel, err)
	}
	return ScoreRecord{
		WalletAddress: record.WalletAddress,
		Category:      record.Category,
		Value:         record.Value,
		Source:        ScoreSource(record.Source),
		UpdatedAtUnix: record.UpdatedAtUnix,
	}, nil
}

// UpsertScore writes a score value, replacing any prior value for the pair.
func (store *DatabaseStore) UpsertScore(ctx context.Context, score ScoreRecord) error {
	if strings.TrimSpace(score.WalletAddress) == "" {
		return fmt.Errorf("score_store.upsert_score.%s: %w", store.driverLabel, ErrEmptyWalletAddress)
	}
	if strings.TrimSpace(score.Category) == "" {
		return fmt.Errorf("score_store.upsert_score.%s: %w", store.driverLabel, ErrEmptyCategory)
	}
	record := scoreRecord{
		WalletAddress: score.WalletAddress,
		Category:      score.Category,
		Value:         score.Value,
		Source:        string(score.Source),
		UpdatedAtUnix: store.now().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}, {Name: "category"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("score_store.upsert_score.%s: %w", store.driverLabel, err)
	}
	return nil
}

// ListScores returns every stored score for a wallet, ordered by category.
func (store *DatabaseStore) ListScores(ctx context.Context, walletAddress string) ([]ScoreRecord, error) {
	if strings.TrimSpace(walletAddress) == "" {
		return nil, fmt.Errorf("score_store.list_scores.%s: %w", store.driverLabel, ErrEmptyWalletAddress)
	}
	var records []scoreRecord
	err := store.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Order("category asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("score_store.list_scores.%s: %w", store.driverLabel, err)
	}
	scores := make([]ScoreRecord, 0, len(records))
	for _, record := range records {
		scores = append(scores, ScoreRecord{
			WalletAddress: record.WalletAddress,
			Category:      record.Category,
			Value:         record.Value,
			Source:        ScoreSource(record.Source),
			UpdatedAtUnix: record.UpdatedAtUnix,
		})
	}
	return scores, nil
}
