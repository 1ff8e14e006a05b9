package web

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const corsPreflightMaxAge = 12 * time.Hour

var (
	errWildcardOrigin      = errors.New("web.cors.wildcard_origin")
	errEmptyAllowedOrigins = errors.New("web.cors.no_origins")
	errInvalidOrigin       = errors.New("web.cors.invalid_origin")
)

// dashboardOrigins is the normalized, de-duplicated set of frontend origins
// that may call the API with the session cookie.
type dashboardOrigins struct {
	ordered  []string
	insecure []string
}

// ConfigureCORS lets the dashboard frontends listed in allowedOrigins call the
// /api routes with credentials. Plain http is accepted but logged unless it
// points at a loopback host.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins, err := collectDashboardOrigins(allowedOrigins)
	if err != nil {
		return nil, err
	}
	for _, origin := range origins.insecure {
		logger.Warn("dashboard origin served over plain http",
			zap.String("code", "web.cors.insecure_origin"),
			zap.String("origin", origin))
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins.ordered,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           corsPreflightMaxAge,
	}), nil
}

func collectDashboardOrigins(rawOrigins []string) (dashboardOrigins, error) {
	var origins dashboardOrigins
	seen := make(map[string]bool, len(rawOrigins))
	for _, raw := range rawOrigins {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		origin, secure, err := normalizeOrigin(trimmed)
		if err != nil {
			return dashboardOrigins{}, err
		}
		if seen[origin] {
			continue
		}
		seen[origin] = true
		origins.ordered = append(origins.ordered, origin)
		if !secure {
			origins.insecure = append(origins.insecure, origin)
		}
	}
	if len(origins.ordered) == 0 {
		return dashboardOrigins{}, errEmptyAllowedOrigins
	}
	return origins, nil
}

// normalizeOrigin reduces an origin to scheme://host[:port] and reports
// whether browsers will treat it as a secure context.
func normalizeOrigin(origin string) (string, bool, error) {
	if origin == "*" {
		return "", false, errWildcardOrigin
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return "", false, fmt.Errorf("%w: %q", errInvalidOrigin, origin)
	}
	if strings.Trim(parsed.Path, "/") != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", false, fmt.Errorf("%w: %q must be scheme://host", errInvalidOrigin, origin)
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "https":
		return scheme + "://" + strings.ToLower(parsed.Host), true, nil
	case "http":
		return scheme + "://" + strings.ToLower(parsed.Host), isLoopbackHost(parsed.Hostname()), nil
	default:
		return "", false, fmt.Errorf("%w: %q must use http or https", errInvalidOrigin, origin)
	}
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
