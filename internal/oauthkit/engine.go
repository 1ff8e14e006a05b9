package oauthkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Token is an access token the caller may present to a provider API.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	// Refreshed is true when the token was minted during this call.
	Refreshed bool
}

// Engine hands out currently-valid access tokens and refreshes them on demand.
// It keeps no per-request state; concurrent refreshes for the same pair are
// tolerated and the last write wins.
type Engine struct {
	store        CredentialStore
	exchanger    Exchanger
	clock        Clock
	logger       *zap.Logger
	metrics      MetricsRecorder
	safetyMargin time.Duration
}

// NewEngine validates the configuration and constructs an Engine.
func NewEngine(configuration EngineConfig) (*Engine, error) {
	if configuration.Store == nil {
		return nil, errors.New("token_engine.new: credential store is required")
	}
	if configuration.Exchanger == nil {
		return nil, errors.New("token_engine.new: exchanger is required")
	}
	engine := &Engine{
		store:        configuration.Store,
		exchanger:    configuration.Exchanger,
		clock:        configuration.Clock,
		logger:       configuration.Logger,
		metrics:      configuration.Metrics,
		safetyMargin: configuration.SafetyMargin,
	}
	if engine.clock == nil {
		engine.clock = NewSystemClock()
	}
	if engine.logger == nil {
		engine.logger = zap.NewNop()
	}
	if engine.metrics == nil {
		engine.metrics = noopMetrics{}
	}
	if engine.safetyMargin <= 0 {
		engine.safetyMargin = DefaultSafetyMargin
	}
	return engine, nil
}

// GetValidToken returns an access token for the pair, refreshing it first when
// it expires within the safety margin. A returned *Error of KindNotConnected or
// KindAuthExpired means the user has to reauthorize.
func (engine *Engine) GetValidToken(ctx context.Context, userID string, serviceName string) (Token, error) {
	record, err := engine.loadRecord(ctx, userID, serviceName)
	if err != nil {
		return Token{}, err
	}

	now := engine.clock.Now()
	if !record.ExpiresAt.IsZero() && record.ExpiresAt.After(now.Add(engine.safetyMargin)) {
		engine.metrics.Increment(MetricTokenReused)
		return Token{AccessToken: record.AccessToken, ExpiresAt: record.ExpiresAt}, nil
	}

	if !record.HasRefreshToken() {
		if record.ExpiresAt.IsZero() || record.ExpiresAt.After(now) {
			// Non-expiring credential, or still usable for a short while.
			engine.metrics.Increment(MetricTokenReused)
			return Token{AccessToken: record.AccessToken, ExpiresAt: record.ExpiresAt}, nil
		}
		engine.logger.Warn("access token expired without refresh token",
			zap.String("code", "token.expired.no_refresh_token"),
			zap.String("user_id", userID),
			zap.String("service", serviceName))
		return Token{}, newAuthExpired(serviceName, CodeReauthorizationRequired, "access token expired and no refresh token is stored", nil)
	}

	return engine.refresh(ctx, record)
}

// ForceRefresh exchanges the stored refresh token regardless of expiry. It is
// used after the upstream already rejected the current access token.
func (engine *Engine) ForceRefresh(ctx context.Context, userID string, serviceName string) (Token, error) {
	record, err := engine.loadRecord(ctx, userID, serviceName)
	if err != nil {
		return Token{}, err
	}
	if !record.HasRefreshToken() {
		return Token{}, newAuthExpired(serviceName, CodeAuthFailedAfterRefresh, "no refresh token is stored", nil)
	}
	return engine.refresh(ctx, record)
}

func (engine *Engine) loadRecord(ctx context.Context, userID string, serviceName string) (CredentialRecord, error) {
	record, err := engine.store.Get(ctx, userID, serviceName)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return CredentialRecord{}, newNotConnected(serviceName, err)
		}
		return CredentialRecord{}, fmt.Errorf("token_engine.load.%s: %w", serviceName, err)
	}
	if record.AccessToken == "" {
		return CredentialRecord{}, newNotConnected(serviceName, nil)
	}
	return record, nil
}

// refresh performs one exchange. The stored record is only written after the
// exchange succeeded, so a failure never clobbers a possibly valid token.
func (engine *Engine) refresh(ctx context.Context, record CredentialRecord) (Token, error) {
	logFields := []zap.Field{
		zap.String("user_id", record.UserID),
		zap.String("service", record.ServiceName),
	}

	minted, exchangeErr := engine.exchanger.Exchange(ctx, record.RefreshToken)
	if exchangeErr != nil {
		engine.metrics.Increment(MetricTokenRefreshFailed)
		code := "token.refresh.transient_failure"
		if errors.Is(exchangeErr, ErrExchangeRevoked) {
			code = "token.refresh.revoked"
		}
		engine.logger.Warn("token refresh failed",
			append(logFields, zap.String("code", code), zap.Error(exchangeErr))...)
		return Token{}, newAuthExpired(record.ServiceName, CodeAuthFailedAfterRefresh, "token refresh failed", exchangeErr)
	}
	if minted.AccessToken == "" {
		engine.metrics.Increment(MetricTokenRefreshFailed)
		return Token{}, newAuthExpired(record.ServiceName, CodeAuthFailedAfterRefresh, "token refresh returned no access token", ErrExchangeEmptyAccessToken)
	}

	updated := record
	updated.AccessToken = minted.AccessToken
	updated.ExpiresAt = minted.ExpiresAt
	updated.UpdatedAt = engine.clock.Now()
	if minted.RefreshToken != "" {
		updated.RefreshToken = minted.RefreshToken
	}
	if persistErr := engine.store.Upsert(ctx, updated); persistErr != nil {
		// The exchange already happened upstream; hand out the new token anyway.
		engine.metrics.Increment(MetricTokenPersistFailed)
		engine.logger.Warn("refreshed token not persisted",
			append(logFields, zap.String("code", "token.persist.failed"), zap.Error(persistErr))...)
	}

	engine.metrics.Increment(MetricTokenRefreshed)
	engine.logger.Info("token refreshed",
		append(logFields, zap.String("code", "token.refresh.succeeded"), zap.Time("expires_at", updated.ExpiresAt))...)
	return Token{AccessToken: updated.AccessToken, ExpiresAt: updated.ExpiresAt, Refreshed: true}, nil
}
