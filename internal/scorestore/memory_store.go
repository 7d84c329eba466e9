package scorestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory store intended for tests and dev.
type MemoryStore struct {
	mutex  sync.Mutex
	users  map[string]UserRecord
	scores map[scoreKey]ScoreRecord
	now    func() time.Time
}

type scoreKey struct {
	walletAddress string
	category      string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]UserRecord),
		scores: make(map[scoreKey]ScoreRecord),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FindUser returns the profile for a wallet address.
func (store *MemoryStore) FindUser(ctx context.Context, walletAddress string) (UserRecord, error) {
	if strings.TrimSpace(walletAddress) == "" {
		return UserRecord{}, fmt.Errorf("memory_store.find_user: %w", ErrEmptyWalletAddress)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.users[walletAddress]
	if !ok {
		return UserRecord{}, fmt.Errorf("memory_store.find_user: %w", ErrUserNotFound)
	}
	return user, nil
}

// UpdateUser writes the profile, creating it when absent.
func (store *MemoryStore) UpdateUser(ctx context.Context, user UserRecord) error {
	if strings.TrimSpace(user.WalletAddress) == "" {
		return fmt.Errorf("memory_store.update_user: %w", ErrEmptyWalletAddress)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user.UpdatedAtUnix = store.now().Unix()
	store.users[user.WalletAddress] = user
	return nil
}

// GetScore returns the stored score for a wallet/category pair.
func (store *MemoryStore) GetScore(ctx context.Context, walletAddress string, category string) (ScoreRecord, error) {
	if strings.TrimSpace(walletAddress) == "" {
		return ScoreRecord{}, fmt.Errorf("memory_store.get_score: %w", ErrEmptyWalletAddress)
	}
	if strings.TrimSpace(category) == "" {
		return ScoreRecord{}, fmt.Errorf("memory_store.get_score: %w", ErrEmptyCategory)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	score, ok := store.scores[scoreKey{walletAddress: walletAddress, category: category}]
	if !ok {
		return ScoreRecord{}, fmt.Errorf("memory_store.get_score: %w", ErrScoreNotFound)
	}
	return score, nil
}

// UpsertScore writes a score value, replacing any prior value for the pair.
func (store *MemoryStore) UpsertScore(ctx context.Context, score ScoreRecord) error {
	if strings.TrimSpace(score.WalletAddress) == "" {
		return fmt.Errorf("memory_store.upsert_score: %w", ErrEmptyWalletAddress)
	}
	if strings.TrimSpace(score.Category) == "" {
		return fmt.Errorf("memory_store.upsert_score: %w", ErrEmptyCategory)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	score.UpdatedAtUnix = store.now().Unix()
	store.scores[scoreKey{walletAddress: score.WalletAddress, category: score.Category}] = score
	return nil
}

// ListScores returns every stored score for a wallet, ordered by category.
func (store *MemoryStore) ListScores(ctx context.Context, walletAddress string) ([]ScoreRecord, error) {
	if strings.TrimSpace(walletAddress) == "" {
		return nil, fmt.Errorf("memory_store.list_scores: %w", ErrEmptyWalletAddress)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var scores []ScoreRecord
	for key, score := range store.scores {
		if key.walletAddress == walletAddress {
			scores = append(scores, score)
		}
	}
	sort.Slice(scores, func(left, right int) bool {
		return scores[left].Category < scores[right].Category
	})
	return scores, nil
}
