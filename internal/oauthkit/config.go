package oauthkit

import (
	"time"

	"go.uber.org/zap"
)

// DefaultSafetyMargin is how long before expiry a stored access token is refreshed.
const DefaultSafetyMargin = 5 * time.Minute

// DefaultTokenLifetime is assumed when the authorization server omits an expiry.
const DefaultTokenLifetime = time.Hour

// Service names identifying the upstream provider a credential belongs to.
const (
	ServiceGmail         = "google-gmail"
	ServiceSearchConsole = "google-searchconsole"
	ServiceAnalytics     = "google-analytics"
)

// KnownService reports whether serviceName is one of the supported integrations.
func KnownService(serviceName string) bool {
	switch serviceName {
	case ServiceGmail, ServiceSearchConsole, ServiceAnalytics:
		return true
	default:
		return false
	}
}

// EngineConfig wires the collaborators of an Engine.
type EngineConfig struct {
	Store        CredentialStore
	Exchanger    Exchanger
	Clock        Clock
	Logger       *zap.Logger
	Metrics      MetricsRecorder
	SafetyMargin time.Duration
}
