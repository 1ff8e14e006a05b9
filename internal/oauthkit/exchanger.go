package oauthkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

var (
	// ErrExchangeEmptyRefreshToken indicates an exchange was requested without a refresh token.
	ErrExchangeEmptyRefreshToken = errors.New("token_exchange.empty_refresh_token")
	// ErrExchangeEmptyAccessToken indicates the authorization server answered without an access token.
	ErrExchangeEmptyAccessToken = errors.New("token_exchange.empty_access_token")
	// ErrExchangeRevoked indicates the refresh token or client was rejected permanently.
	ErrExchangeRevoked = errors.New("token_exchange.revoked")
)

// ExchangeResult is a freshly minted access token.
type ExchangeResult struct {
	AccessToken string
	// RefreshToken is set only when the authorization server rotated it.
	RefreshToken string
	ExpiresAt    time.Time
}

// Exchanger trades a refresh token for a new access token.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (ExchangeResult, error)
}

// OAuthClientConfig identifies this application to the authorization server.
type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Google token endpoint when non-empty.
	TokenURL   string
	HTTPClient *http.Client
	Clock      Clock
}

// OAuthExchanger performs the refresh_token grant with golang.org/x/oauth2.
type OAuthExchanger struct {
	config     *oauth2.Config
	httpClient *http.Client
	clock      Clock
}

// NewOAuthExchanger builds an exchanger for the Google authorization server.
func NewOAuthExchanger(configuration OAuthClientConfig) *OAuthExchanger {
	endpoint := googleOAuth.Endpoint
	if strings.TrimSpace(configuration.TokenURL) != "" {
		endpoint.TokenURL = configuration.TokenURL
	}
	clock := configuration.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	return &OAuthExchanger{
		config: &oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			Endpoint:     endpoint,
		},
		httpClient: configuration.HTTPClient,
		clock:      clock,
	}
}

// Exchange implements Exchanger.
func (exchanger *OAuthExchanger) Exchange(ctx context.Context, refreshToken string) (ExchangeResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return ExchangeResult{}, fmt.Errorf("token_exchange.exchange: %w", ErrExchangeEmptyRefreshToken)
	}
	if exchanger.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, exchanger.httpClient)
	}
	tokenSource := exchanger.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	minted, err := tokenSource.Token()
	if err != nil {
		if isPermanentExchangeError(err) {
			return ExchangeResult{}, fmt.Errorf("token_exchange.exchange: %w: %w", ErrExchangeRevoked, err)
		}
		return ExchangeResult{}, fmt.Errorf("token_exchange.exchange: %w", err)
	}
	if minted == nil || minted.AccessToken == "" {
		return ExchangeResult{}, fmt.Errorf("token_exchange.exchange: %w", ErrExchangeEmptyAccessToken)
	}
	expiresAt := minted.Expiry
	if expiresAt.IsZero() {
		expiresAt = exchanger.clock.Now().Add(DefaultTokenLifetime)
	}
	result := ExchangeResult{
		AccessToken: minted.AccessToken,
		ExpiresAt:   expiresAt.UTC(),
	}
	if minted.RefreshToken != "" && minted.RefreshToken != refreshToken {
		result.RefreshToken = minted.RefreshToken
	}
	return result, nil
}

func isPermanentExchangeError(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "token has been expired or revoked")
}
