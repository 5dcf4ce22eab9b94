package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blockialabs/go-ssi-kit/storage"
)

// StoreNonceRegistry records consumed nonces in a key-value store.
// Entries outlive their retention window and are pruned lazily on the
// next Consume call.
type StoreNonceRegistry struct {
	mu    sync.Mutex
	store storage.Store
	now   func() time.Time
}

type nonceRecord struct {
	ConsumedAt time.Time `json:"consumedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// NewStoreNonceRegistry creates a nonce registry over a store.
func NewStoreNonceRegistry(store storage.Store) *StoreNonceRegistry {
	return &StoreNonceRegistry{store: store, now: time.Now}
}

const nonceKeyPrefix = "protocol:nonce:"

// Consume marks a nonce as used. A nonce already consumed within its
// retention window fails with ErrNonceReused.
func (r *StoreNonceRegistry) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	if nonce == "" {
		return fmt.Errorf("nonce is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := nonceKeyPrefix + nonce
	now := r.now()

	raw, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		var record nonceRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("failed to decode nonce record: %w", err)
		}
		if now.Before(record.ExpiresAt) {
			return fmt.Errorf("%w: %s", ErrNonceReused, nonce)
		}
		// Expired record: the timestamp check already rejects payloads
		// this old, so the nonce may be reclaimed.
	case errors.Is(err, storage.ErrDataNotFound):
	default:
		return fmt.Errorf("failed to read nonce record: %w", err)
	}

	record, err := json.Marshal(nonceRecord{ConsumedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("failed to encode nonce record: %w", err)
	}
	return r.store.Set(ctx, key, record)
}
