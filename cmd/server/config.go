package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tyemirov/insightdash/internal/oauthkit"
)

const (
	storeBackendMemory = "memory"
	storeBackendGORM   = "gorm"
	storeBackendPGX    = "pgx"

	defaultSessionIssuer = "insightdash"

	configCodeMissingGoogleClientID     = "config.missing_google_client_id"
	configCodeMissingGoogleClientSecret = "config.missing_google_client_secret"
	configCodeMissingSessionSigningKey  = "config.missing_session_signing_key"
	configCodeInvalidSafetyMargin       = "config.invalid_refresh_safety_margin"
	configCodeInvalidStoreBackend       = "config.invalid_store_backend"
	configCodeMissingDatabaseURL        = "config.missing_database_url"
	configCodeInvalidGmailMaxResults    = "config.invalid_gmail_max_results"
	configCodeMissingCORSOrigins        = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf   = "config.uninitialized_server_config"
	configCodeCredentialStoreInit       = "config.credential_store_init"
)

// ServerConfig holds the validated settings of the dashboard API server.
type ServerConfig struct {
	ListenAddr   string
	DatabaseURL  string
	StoreBackend string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleTokenURL     string

	SessionSigningKey []byte
	SessionIssuer     string
	SessionCookieName string

	RefreshSafetyMargin      time.Duration
	DefaultAnalyticsProperty string
	GmailMaxResults          int
	GmailDetailRPS           float64

	EnableCORS         bool
	CORSAllowedOrigins []string
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates settings bound into viper.
func LoadServerConfig() (ServerConfig, error) {
	googleClientID := strings.TrimSpace(viper.GetString("google_client_id"))
	if googleClientID == "" {
		return ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}
	googleClientSecret := strings.TrimSpace(viper.GetString("google_client_secret"))
	if googleClientSecret == "" {
		return ServerConfig{}, configError(configCodeMissingGoogleClientSecret, "google_client_secret must be provided")
	}
	sessionSigningKey := viper.GetString("session_signing_key")
	if sessionSigningKey == "" {
		return ServerConfig{}, configError(configCodeMissingSessionSigningKey, "session_signing_key must be provided")
	}

	safetyMargin := oauthkit.DefaultSafetyMargin
	if viper.IsSet("refresh_safety_margin") {
		safetyMargin = viper.GetDuration("refresh_safety_margin")
		if safetyMargin <= 0 {
			return ServerConfig{}, configError(configCodeInvalidSafetyMargin, "refresh_safety_margin must be greater than zero")
		}
	}

	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	storeBackend := strings.ToLower(strings.TrimSpace(viper.GetString("store_backend")))
	if storeBackend == "" {
		storeBackend = storeBackendMemory
		if databaseURL != "" {
			storeBackend = storeBackendGORM
		}
	}
	switch storeBackend {
	case storeBackendMemory:
	case storeBackendGORM, storeBackendPGX:
		if databaseURL == "" {
			return ServerConfig{}, configError(configCodeMissingDatabaseURL, "database_url must be provided for store_backend "+storeBackend)
		}
	default:
		return ServerConfig{}, configError(configCodeInvalidStoreBackend, "store_backend must be one of memory, gorm, pgx")
	}

	gmailMaxResults := viper.GetInt("gmail_max_results")
	if gmailMaxResults < 0 || gmailMaxResults > 100 {
		return ServerConfig{}, configError(configCodeInvalidGmailMaxResults, "gmail_max_results must not exceed 100")
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return ServerConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	sessionIssuer := strings.TrimSpace(viper.GetString("session_issuer"))
	if sessionIssuer == "" {
		sessionIssuer = defaultSessionIssuer
	}

	return ServerConfig{
		ListenAddr:               viper.GetString("listen_addr"),
		DatabaseURL:              databaseURL,
		StoreBackend:             storeBackend,
		GoogleClientID:           googleClientID,
		GoogleClientSecret:       googleClientSecret,
		GoogleTokenURL:           strings.TrimSpace(viper.GetString("google_token_url")),
		SessionSigningKey:        []byte(sessionSigningKey),
		SessionIssuer:            sessionIssuer,
		SessionCookieName:        viper.GetString("session_cookie_name"),
		RefreshSafetyMargin:      safetyMargin,
		DefaultAnalyticsProperty: strings.TrimSpace(viper.GetString("default_analytics_property")),
		GmailMaxResults:          gmailMaxResults,
		GmailDetailRPS:           viper.GetFloat64("gmail_detail_rps"),
		EnableCORS:               enableCORS,
		CORSAllowedOrigins:       corsAllowedOrigins,
	}, nil
}
