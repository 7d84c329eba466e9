// Package reconcile compares durable score values against values observed on
// the oracle and writes the chain value back when a flow resolves.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chainrep/chainrep/internal/scorestore"
)

// ErrSyncWriteFailed indicates the resolved score could not be persisted.
var ErrSyncWriteFailed = errors.New("reconcile.sync_write_failed")

// SyncStatus describes how a stored value relates to the chain value.
type SyncStatus string

const (
	StatusSynced       SyncStatus = "synced"
	StatusOutOfSync    SyncStatus = "out-of-sync"
	StatusDatabaseOnly SyncStatus = "database-only"
	StatusChainOnly    SyncStatus = "chain-only"
	StatusNone         SyncStatus = "none"
)

// ComputeSyncStatus classifies the database/chain value pair. A nil pointer
// means the side has no value at all, which is distinct from a stored zero.
func ComputeSyncStatus(databaseValue *int64, chainValue *uint64) SyncStatus {
	switch {
	case databaseValue == nil && chainValue == nil:
		return StatusNone
	case databaseValue == nil:
		return StatusChainOnly
	case chainValue == nil:
		return StatusDatabaseOnly
	case *databaseValue >= 0 && uint64(*databaseValue) == *chainValue:
		return StatusSynced
	default:
		return StatusOutOfSync
	}
}

// CategoryStatus is one category's reconciliation report.
type CategoryStatus struct {
	Category      string     `json:"category"`
	DatabaseValue *int64     `json:"databaseValue,omitempty"`
	ChainValue    *uint64    `json:"chainValue,omitempty"`
	Status        SyncStatus `json:"status"`
}

// Syncer folds resolved chain scores into durable storage.
type Syncer struct {
	scores scorestore.ScoreStore
	logger *zap.Logger
}

// NewSyncer constructs a syncer over the score store.
func NewSyncer(scores scorestore.ScoreStore, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{scores: scores, logger: logger}
}

// OnResolved persists a resolved chain score with source 'sync' and reports
// how the prior stored value related to it.
func (syncer *Syncer) OnResolved(ctx context.Context, caller string, category string, chainScore uint64) (SyncStatus, error) {
	var priorValue *int64
	prior, getErr := syncer.scores.GetScore(ctx, caller, category)
	switch {
	case getErr == nil:
		value := prior.Value
		priorValue = &value
	case errors.Is(getErr, scorestore.ErrScoreNotFound):
		// First observation for this category.
	default:
		return StatusNone, fmt.Errorf("reconcile.on_resolved.read: %w: %v", ErrSyncWriteFailed, getErr)
	}

	observed := chainScore
	status := ComputeSyncStatus(priorValue, &observed)

	writeErr := syncer.scores.UpsertScore(ctx, scorestore.ScoreRecord{
		WalletAddress: caller,
		Category:      category,
		Value:         int64(chainScore),
		Source:        scorestore.SourceSync,
	})
	if writeErr != nil {
		return status, fmt.Errorf("reconcile.on_resolved.write: %w: %v", ErrSyncWriteFailed, writeErr)
	}

	syncer.logger.Info("resolved score reconciled",
		zap.String("caller", caller),
		zap.String("category", category),
		zap.Uint64("chainScore", chainScore),
		zap.String("priorStatus", string(status)))
	return status, nil
}

// Report builds the per-category reconciliation view for a wallet. Chain
// values are supplied by the caller keyed by category; categories present on
// either side appear in the report.
func (syncer *Syncer) Report(ctx context.Context, caller string, chainValues map[string]uint64) ([]CategoryStatus, error) {
	stored, listErr := syncer.scores.ListScores(ctx, caller)
	if listErr != nil {
		return nil, fmt.Errorf("reconcile.report: %w", listErr)
	}

	seen := make(map[string]bool, len(stored))
	report := make([]CategoryStatus, 0, len(stored)+len(chainValues))
	for _, score := range stored {
		seen[score.Category] = true
		databaseValue := score.Value
		entry := CategoryStatus{Category: score.Category, DatabaseValue: &databaseValue}
		if chainValue, onChain := chainValues[score.Category]; onChain {
			observed := chainValue
			entry.ChainValue = &observed
		}
		entry.Status = ComputeSyncStatus(entry.DatabaseValue, entry.ChainValue)
		report = append(report, entry)
	}
	for category, chainValue := range chainValues {
		if seen[category] {
			continue
		}
		observed := chainValue
		report = append(report, CategoryStatus{
			Category:   category,
			ChainValue: &observed,
			Status:     StatusChainOnly,
		})
	}
	sort.Slice(report, func(left, right int) bool {
		return report[left].Category < report[right].Category
	})
	return report, nil
}

// NeedsSync reports whether any category in the report is not synced.
func NeedsSync(report []CategoryStatus) bool {
	for _, entry := range report {
		if entry.Status != StatusSynced {
			return true
		}
	}
	return false
}
