package oauthkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("credential_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("credential_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("credential_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("credential_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("credential_store.unsupported_no_scheme")
)

// DatabaseCredentialStore persists OAuth credentials in the integrations table using GORM.
type DatabaseCredentialStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseCredentialStore) Driver() string {
	return store.driverLabel
}

type integrationRecord struct {
	ID           string     `gorm:"column:id;primaryKey"`
	UserID       string     `gorm:"column:user_id;not null;index:idx_integrations_user_service,priority:1"`
	ServiceName  string     `gorm:"column:service_name;not null;index:idx_integrations_user_service,priority:2"`
	AccessToken  string     `gorm:"column:access_token;not null;default:''"`
	RefreshToken string     `gorm:"column:refresh_token;not null;default:''"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null"`
}

func (integrationRecord) TableName() string {
	return "integrations"
}

func (record integrationRecord) toCredential() CredentialRecord {
	credential := CredentialRecord{
		ID:           record.ID,
		UserID:       record.UserID,
		ServiceName:  record.ServiceName,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		CreatedAt:    record.CreatedAt.UTC(),
		UpdatedAt:    record.UpdatedAt.UTC(),
	}
	if record.ExpiresAt != nil {
		credential.ExpiresAt = record.ExpiresAt.UTC()
	}
	return credential
}

// NewDatabaseCredentialStore opens databaseURL (postgres:// or sqlite://) and migrates the schema.
func NewDatabaseCredentialStore(ctx context.Context, databaseURL string) (*DatabaseCredentialStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("credential_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("credential_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&integrationRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("credential_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseCredentialStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Get returns the most recently created credential for the pair.
func (store *DatabaseCredentialStore) Get(ctx context.Context, userID string, serviceName string) (CredentialRecord, error) {
	var record integrationRecord
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND service_name = ?", userID, serviceName).
		Order("created_at DESC").
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CredentialRecord{}, fmt.Errorf("credential_store.get.%s: %w", store.driverLabel, ErrCredentialNotFound)
		}
		return CredentialRecord{}, fmt.Errorf("credential_store.get.%s: %w", store.driverLabel, err)
	}
	return record.toCredential(), nil
}

// Upsert rewrites the current row for the pair, or inserts one, inside a
// transaction so tokens and expiry always change together.
func (store *DatabaseCredentialStore) Upsert(ctx context.Context, credential CredentialRecord) error {
	if credential.UserID == "" || credential.ServiceName == "" {
		return fmt.Errorf("credential_store.upsert.%s: %w", store.driverLabel, ErrCredentialMissingKey)
	}
	now := time.Now().UTC()
	updatedAt := credential.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	var expiresAt *time.Time
	if !credential.ExpiresAt.IsZero() {
		expiry := credential.ExpiresAt.UTC()
		expiresAt = &expiry
	}

	err := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current integrationRecord
		findErr := tx.Where("user_id = ? AND service_name = ?", credential.UserID, credential.ServiceName).
			Order("created_at DESC").
			Take(&current).Error
		if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}
		if findErr == nil {
			return tx.Model(&integrationRecord{}).
				Where("id = ?", current.ID).
				Updates(map[string]any{
					"access_token":  credential.AccessToken,
					"refresh_token": credential.RefreshToken,
					"expires_at":    expiresAt,
					"updated_at":    updatedAt,
				}).Error
		}
		createdAt := credential.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		recordID := credential.ID
		if recordID == "" {
			recordID = uuid.NewString()
		}
		return tx.Create(&integrationRecord{
			ID:           recordID,
			UserID:       credential.UserID,
			ServiceName:  credential.ServiceName,
			AccessToken:  credential.AccessToken,
			RefreshToken: credential.RefreshToken,
			ExpiresAt:    expiresAt,
			CreatedAt:    createdAt,
			UpdatedAt:    updatedAt,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("credential_store.upsert.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Delete removes every credential row for the pair.
func (store *DatabaseCredentialStore) Delete(ctx context.Context, userID string, serviceName string) error {
	result := store.db.WithContext(ctx).
		Where("user_id = ? AND service_name = ?", userID, serviceName).
		Delete(&integrationRecord{})
	if result.Error != nil {
		return fmt.Errorf("credential_store.delete.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("credential_store.delete.%s: %w", store.driverLabel, ErrCredentialNotFound)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("credential_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("credential_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("credential_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("credential_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
