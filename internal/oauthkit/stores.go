package oauthkit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCredentialNotFound indicates no credential matched the (user, service) pair.
	ErrCredentialNotFound = errors.New("credential_store.not_found")
	// ErrCredentialMissingKey indicates a record without user id or service name.
	ErrCredentialMissingKey = errors.New("credential_store.missing_key")
)

// CredentialRecord is the persisted OAuth state for one (user, service) pair.
type CredentialRecord struct {
	ID           string
	UserID       string
	ServiceName  string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRefreshToken reports whether the record can be refreshed without user interaction.
func (record CredentialRecord) HasRefreshToken() bool {
	return record.RefreshToken != ""
}

// CredentialStore persists per-user, per-service OAuth credentials.
//
// Get returns the most recently created record when duplicates exist.
// Upsert replaces every token field of the current record in one write.
type CredentialStore interface {
	Get(ctx context.Context, userID string, serviceName string) (CredentialRecord, error)
	Upsert(ctx context.Context, record CredentialRecord) error
	Delete(ctx context.Context, userID string, serviceName string) error
}
