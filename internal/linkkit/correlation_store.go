package linkkit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCorrelationTTL bounds how long an abandoned authorization flow may
// stay resumable.
const DefaultCorrelationTTL = 10 * time.Minute

// CorrelationStore persists the (provider, nonce) -> proof secret pairing
// between the authorization redirect and the provider callback. Entries are
// one-time: Consume removes the entry it returns, so a second Consume for the
// same pair reports ErrCorrelationNotFound and signals a replay.
type CorrelationStore interface {
	// Put inserts an entry for a freshly built authorization URL.
	Put(ctx context.Context, provider Provider, nonce string, proofSecret string) error
	// Consume looks up and deletes the entry, returning its proof secret.
	Consume(ctx context.Context, provider Provider, nonce string) (string, error)
}

type correlationKey struct {
	provider Provider
	nonce    string
}

type correlationEntry struct {
	proofSecret string
	createdAt   time.Time
}

type memoryCorrelationStore struct {
	mutex   sync.Mutex
	entries map[correlationKey]correlationEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCorrelationStore constructs an in-memory CorrelationStore. It is
// suitable for single-instance deployments; when callbacks may land on a
// different instance than the initiation, use the database-backed store.
func NewMemoryCorrelationStore(ttl time.Duration) CorrelationStore {
	if ttl <= 0 {
		ttl = DefaultCorrelationTTL
	}
	return &memoryCorrelationStore{
		entries: make(map[correlationKey]correlationEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (store *memoryCorrelationStore) Put(ctx context.Context, provider Provider, nonce string, proofSecret string) error {
	if nonce == "" {
		return fmt.Errorf("correlation_store.put: %w", ErrMalformedToken)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[correlationKey{provider: provider, nonce: nonce}] = correlationEntry{
		proofSecret: proofSecret,
		createdAt:   store.now(),
	}
	return nil
}

func (store *memoryCorrelationStore) Consume(ctx context.Context, provider Provider, nonce string) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	key := correlationKey{provider: provider, nonce: nonce}
	entry, ok := store.entries[key]
	if !ok {
		store.purgeExpiredLocked()
		return "", ErrCorrelationNotFound
	}
	delete(store.entries, key)
	if store.now().Sub(entry.createdAt) > store.ttl {
		store.purgeExpiredLocked()
		return "", ErrCorrelationExpired
	}
	store.purgeExpiredLocked()
	return entry.proofSecret, nil
}

func (store *memoryCorrelationStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for key, entry := range store.entries {
		if now.Sub(entry.createdAt) > store.ttl {
			delete(store.entries, key)
		}
	}
}
