package oauthkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCredentialStore is an in-memory store intended for tests and dev.
type MemoryCredentialStore struct {
	mutex   sync.Mutex
	records map[credentialKey][]CredentialRecord
	now     func() time.Time
}

type credentialKey struct {
	userID      string
	serviceName string
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		records: make(map[credentialKey][]CredentialRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the newest record for the pair.
func (store *MemoryCredentialStore) Get(ctx context.Context, userID string, serviceName string) (CredentialRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	rows := store.records[credentialKey{userID: userID, serviceName: serviceName}]
	if len(rows) == 0 {
		return CredentialRecord{}, fmt.Errorf("credential_store.get.memory: %w", ErrCredentialNotFound)
	}
	return rows[0], nil
}

// Upsert replaces the newest record for the pair or inserts a new one.
func (store *MemoryCredentialStore) Upsert(ctx context.Context, record CredentialRecord) error {
	if record.UserID == "" || record.ServiceName == "" {
		return fmt.Errorf("credential_store.upsert.memory: %w", ErrCredentialMissingKey)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := credentialKey{userID: record.UserID, serviceName: record.ServiceName}
	now := store.now()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	rows := store.records[key]
	if len(rows) > 0 {
		record.ID = rows[0].ID
		record.CreatedAt = rows[0].CreatedAt
		rows[0] = record
		return nil
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	store.records[key] = []CredentialRecord{record}
	return nil
}

// Insert appends a record without replacing existing ones, mirroring tables
// that accumulated duplicate rows. Rows stay ordered newest first.
func (store *MemoryCredentialStore) Insert(record CredentialRecord) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = store.now()
	}
	key := credentialKey{userID: record.UserID, serviceName: record.ServiceName}
	rows := append(store.records[key], record)
	sort.SliceStable(rows, func(left, right int) bool {
		return rows[left].CreatedAt.After(rows[right].CreatedAt)
	})
	store.records[key] = rows
}

// Delete removes every record for the pair.
func (store *MemoryCredentialStore) Delete(ctx context.Context, userID string, serviceName string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := credentialKey{userID: userID, serviceName: serviceName}
	if len(store.records[key]) == 0 {
		return fmt.Errorf("credential_store.delete.memory: %w", ErrCredentialNotFound)
	}
	delete(store.records, key)
	return nil
}
