package oauthkit

import (
	"context"

	"go.uber.org/zap"
)

// CallFunc performs one upstream call with the given access token and returns
// the normalized result.
type CallFunc[T any] func(ctx context.Context, accessToken string) (T, error)

// RefreshAndRetry recovers from an authorization failure at most once.
//
// Errors that are not authorization failures are returned unchanged without a
// refresh. Otherwise the token is refreshed unconditionally and retry is
// invoked exactly once with the new token. A refresh failure, or a second
// authorization failure from retry, yields KindAuthExpired.
func RefreshAndRetry[T any](ctx context.Context, engine *Engine, callErr error, userID string, serviceName string, retry CallFunc[T]) (T, error) {
	var zero T
	if !IsAuthorizationFailure(callErr) {
		return zero, callErr
	}

	engine.logger.Info("authorization failure, refreshing token",
		zap.String("code", "token.retry.refreshing"),
		zap.String("user_id", userID),
		zap.String("service", serviceName),
		zap.Error(callErr))

	token, refreshErr := engine.ForceRefresh(ctx, userID, serviceName)
	if refreshErr != nil {
		if tagged, ok := AsError(refreshErr); ok && (tagged.Kind == KindNotConnected || tagged.Kind == KindAuthExpired) {
			return zero, refreshErr
		}
		// Store read failures also end the request as reauthorization required.
		return zero, newAuthExpired(serviceName, CodeAuthFailedAfterRefresh, "token refresh failed", refreshErr)
	}

	engine.metrics.Increment(MetricRetryAttempted)
	result, retryErr := retry(ctx, token.AccessToken)
	if retryErr == nil {
		return result, nil
	}
	if IsAuthorizationFailure(retryErr) {
		engine.metrics.Increment(MetricRetryRejected)
		engine.logger.Warn("refreshed token rejected by upstream",
			zap.String("code", "token.retry.rejected"),
			zap.String("user_id", userID),
			zap.String("service", serviceName),
			zap.Error(retryErr))
		return zero, newAuthExpired(serviceName, CodeAuthFailedAfterRefresh, "upstream rejected the refreshed token", retryErr)
	}
	return zero, retryErr
}

// Execute runs call with a valid token and, on an authorization failure, once
// more through RefreshAndRetry. The same call serves both attempts so the
// normalization logic cannot drift between them.
func Execute[T any](ctx context.Context, engine *Engine, userID string, serviceName string, call CallFunc[T]) (T, error) {
	var zero T
	token, err := engine.GetValidToken(ctx, userID, serviceName)
	if err != nil {
		return zero, err
	}
	result, callErr := call(ctx, token.AccessToken)
	if callErr == nil {
		return result, nil
	}
	return RefreshAndRetry(ctx, engine, callErr, userID, serviceName, call)
}
