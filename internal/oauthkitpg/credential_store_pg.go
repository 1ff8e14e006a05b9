package oauthkitpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tyemirov/insightdash/internal/oauthkit"
)

// PostgresCredentialStore persists OAuth credentials in PostgreSQL through pgx.
type PostgresCredentialStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCredentialStore constructs a Postgres store.
func NewPostgresCredentialStore(pool *pgxpool.Pool) *PostgresCredentialStore {
	return &PostgresCredentialStore{pool: pool}
}

// Get returns the newest credential for the pair.
func (store *PostgresCredentialStore) Get(ctx context.Context, userID string, serviceName string) (oauthkit.CredentialRecord, error) {
	row := store.pool.QueryRow(ctx, `
SELECT id, user_id, service_name, access_token, refresh_token, expires_at, created_at, updated_at
FROM integrations
WHERE user_id = $1 AND service_name = $2
ORDER BY created_at DESC
LIMIT 1
`, userID, serviceName)
	record, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return oauthkit.CredentialRecord{}, fmt.Errorf("credential_store.get.pgx: %w", oauthkit.ErrCredentialNotFound)
		}
		return oauthkit.CredentialRecord{}, fmt.Errorf("credential_store.get.pgx: %w", err)
	}
	return record, nil
}

// Upsert rewrites the newest row for the pair, or inserts one, in a single transaction.
func (store *PostgresCredentialStore) Upsert(ctx context.Context, record oauthkit.CredentialRecord) error {
	if record.UserID == "" || record.ServiceName == "" {
		return fmt.Errorf("credential_store.upsert.pgx: %w", oauthkit.ErrCredentialMissingKey)
	}
	now := time.Now().UTC()
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	var expiresAt *time.Time
	if !record.ExpiresAt.IsZero() {
		expiry := record.ExpiresAt.UTC()
		expiresAt = &expiry
	}

	err := pgx.BeginFunc(ctx, store.pool, func(tx pgx.Tx) error {
		var currentID string
		findErr := tx.QueryRow(ctx, `
SELECT id FROM integrations
WHERE user_id = $1 AND service_name = $2
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE
`, record.UserID, record.ServiceName).Scan(&currentID)
		switch {
		case findErr == nil:
			_, execErr := tx.Exec(ctx, `
UPDATE integrations
SET access_token = $1, refresh_token = $2, expires_at = $3, updated_at = $4
WHERE id = $5
`, record.AccessToken, record.RefreshToken, expiresAt, updatedAt, currentID)
			return execErr
		case errors.Is(findErr, pgx.ErrNoRows):
			recordID := record.ID
			if recordID == "" {
				recordID = uuid.NewString()
			}
			createdAt := record.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			_, execErr := tx.Exec(ctx, `
INSERT INTO integrations (id, user_id, service_name, access_token, refresh_token, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, recordID, record.UserID, record.ServiceName, record.AccessToken, record.RefreshToken, expiresAt, createdAt, updatedAt)
			return execErr
		default:
			return findErr
		}
	})
	if err != nil {
		return fmt.Errorf("credential_store.upsert.pgx: %w", err)
	}
	return nil
}

// Delete removes every credential row for the pair.
func (store *PostgresCredentialStore) Delete(ctx context.Context, userID string, serviceName string) error {
	tag, err := store.pool.Exec(ctx, `
DELETE FROM integrations
WHERE user_id = $1 AND service_name = $2
`, userID, serviceName)
	if err != nil {
		return fmt.Errorf("credential_store.delete.pgx: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential_store.delete.pgx: %w", oauthkit.ErrCredentialNotFound)
	}
	return nil
}

func scanCredential(row pgx.Row) (oauthkit.CredentialRecord, error) {
	var record oauthkit.CredentialRecord
	var expiresAt *time.Time
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.ServiceName,
		&record.AccessToken,
		&record.RefreshToken,
		&expiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return oauthkit.CredentialRecord{}, err
	}
	if expiresAt != nil {
		record.ExpiresAt = expiresAt.UTC()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}
