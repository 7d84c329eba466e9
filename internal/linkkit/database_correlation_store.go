package linkkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chainrep/chainrep/internal/dbkit"
)

// DatabaseCorrelationStore persists correlation entries using GORM. It is the
// backend for multi-instance deployments, where the provider callback may land
// on a different server instance than the one that built the authorization URL.
type DatabaseCorrelationStore struct {
	db          *gorm.DB
	driverLabel string
	ttl         time.Duration
	now         func() time.Time
}

type correlationRecord struct {
	Provider      string `gorm:"column:provider;primaryKey"`
	Nonce         string `gorm:"column:nonce;primaryKey"`
	ProofSecret   string `gorm:"column:proof_secret;not null;default:''"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null;index"`
}

func (correlationRecord) TableName() string {
	return "link_correlations"
}

// NewDatabaseCorrelationStore constructs a GORM-backed store for the given
// database URL (postgres:// or sqlite://).
func NewDatabaseCorrelationStore(ctx context.Context, databaseURL string, ttl time.Duration) (*DatabaseCorrelationStore, error) {
	if ttl <= 0 {
		ttl = DefaultCorrelationTTL
	}
	dialector, driverLabel, err := dbkit.ResolveDialector(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("correlation_store.open: %w", err)
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("correlation_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&correlationRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("correlation_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseCorrelationStore{
		db:          gormDB,
		driverLabel: driverLabel,
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseCorrelationStore) Driver() string {
	return store.driverLabel
}

// Put inserts a correlation entry and evicts any rows older than the TTL.
func (store *DatabaseCorrelationStore) Put(ctx context.Context, provider Provider, nonce string, proofSecret string) error {
	if nonce == "" {
		return fmt.Errorf("correlation_store.put.%s: %w", store.driverLabel, ErrMalformedToken)
	}
	record := correlationRecord{
		Provider:      string(provider),
		Nonce:         nonce,
		ProofSecret:   proofSecret,
		CreatedAtUnix: store.now().UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("correlation_store.put.%s: %w", store.driverLabel, err)
	}
	store.evictExpired(ctx)
	return nil
}

// Consume deletes and returns the entry for the (provider, nonce) pair.
func (store *DatabaseCorrelationStore) Consume(ctx context.Context, provider Provider, nonce string) (string, error) {
	var record correlationRecord
	err := store.db.WithContext(ctx).
		Where("provider = ? AND nonce = ?", string(provider), nonce).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrCorrelationNotFound
		}
		return "", fmt.Errorf("correlation_store.consume.%s: %w", store.driverLabel, err)
	}
	deleteErr := store.db.WithContext(ctx).
		Where("provider = ? AND nonce = ?", string(provider), nonce).
		Delete(&correlationRecord{}).Error
	if deleteErr != nil {
		return "", fmt.Errorf("correlation_store.consume.%s: %w", store.driverLabel, deleteErr)
	}
	if store.now().UTC().Sub(time.Unix(record.CreatedAtUnix, 0)) > store.ttl {
		return "", ErrCorrelationExpired
	}
	return record.ProofSecret, nil
}

// evictExpired removes rows older than the TTL. Best effort: abandoned flows
// must not accumulate, but an eviction failure never fails the flow in progress.
func (store *DatabaseCorrelationStore) evictExpired(ctx context.Context) {
	cutoff := store.now().UTC().Add(-store.ttl).Unix()
	store.db.WithContext(ctx).
		Where("created_at_unix < ?", cutoff).
		Delete(&correlationRecord{})
}
