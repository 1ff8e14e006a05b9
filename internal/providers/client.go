// Package providers wraps the Google APIs behind the dashboard: one call per
// access token, normalized results, and tagged errors the token engine can act on.
package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tyemirov/insightdash/internal/oauthkit"
)

// Options configures how provider clients reach Google.
type Options struct {
	// HTTPClient is the base transport under the bearer token. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// ClientOptions are appended to every service, e.g. option.WithEndpoint in tests.
	ClientOptions []option.ClientOption
	// Now overrides the clock used for fallback dates.
	Now func() time.Time
}

func (options Options) now() time.Time {
	if options.Now != nil {
		return options.Now()
	}
	return time.Now().UTC()
}

// serviceOptions authenticates every request of one call with accessToken.
func (options Options) serviceOptions(ctx context.Context, accessToken string) []option.ClientOption {
	if options.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, options.HTTPClient)
	}
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	clientOptions := make([]option.ClientOption, 0, len(options.ClientOptions)+1)
	clientOptions = append(clientOptions, options.ClientOptions...)
	clientOptions = append(clientOptions, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
	return clientOptions
}

var credentialReasons = map[string]bool{
	"authError":          true,
	"invalidCredentials": true,
}

// classifyError converts a Google client failure into a tagged *oauthkit.Error.
func classifyError(serviceName string, err error) error {
	if err == nil {
		return nil
	}
	if _, tagged := oauthkit.AsError(err); tagged {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		reason := ""
		if len(apiErr.Errors) > 0 {
			reason = apiErr.Errors[0].Reason
			if message == "" {
				message = apiErr.Errors[0].Message
			}
		}
		if message == "" {
			message = http.StatusText(apiErr.Code)
		}
		if apiErr.Code != http.StatusUnauthorized && credentialReasons[reason] {
			return oauthkit.NewCredentialRejected(serviceName, apiErr.Code, message, err)
		}
		providerErr := oauthkit.NewProviderError(serviceName, apiErr.Code, message, err)
		if strings.Contains(strings.ToLower(message), "insufficient permission") {
			providerErr.Code = oauthkit.CodePermissionDenied
		}
		return providerErr
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return oauthkit.NewTransportError(serviceName, err)
	}
	return oauthkit.NewProviderError(serviceName, 0, err.Error(), err)
}
