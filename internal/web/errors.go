package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/insightdash/internal/oauthkit"
)

const codeInternalError = "INTERNAL_ERROR"

var serviceDisplayNames = map[string]string{
	oauthkit.ServiceGmail:         "Gmail",
	oauthkit.ServiceSearchConsole: "Search Console",
	oauthkit.ServiceAnalytics:     "Google Analytics",
}

func displayName(serviceName string) string {
	if name, ok := serviceDisplayNames[serviceName]; ok {
		return name
	}
	return serviceName
}

// respondIntegrationError writes the JSON body for a failed provider call.
func respondIntegrationError(contextGin *gin.Context, logger *zap.Logger, serviceName string, err error) {
	fields := []zap.Field{
		zap.String("service", serviceName),
		zap.String("request_id", RequestIDFromContext(contextGin)),
		zap.Error(err),
	}

	tagged, ok := oauthkit.AsError(err)
	if !ok {
		logger.Error("integration request failed", append(fields, zap.String("code", "web.integration.internal"))...)
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
			"code":  codeInternalError,
		})
		return
	}

	fields = append(fields, zap.String("code", "web.integration."+string(tagged.Kind)))
	switch tagged.Kind {
	case oauthkit.KindNotConnected:
		logger.Info("integration not connected", fields...)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":         displayName(serviceName) + " integration not found",
			"code":          tagged.Code,
			"setupRequired": true,
		})
	case oauthkit.KindAuthExpired:
		logger.Warn("integration authorization expired", fields...)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication with " + displayName(serviceName) + " failed; reconnect the integration",
			"code":  tagged.Code,
		})
	case oauthkit.KindProviderError:
		logger.Warn("provider call failed", append(fields, zap.Int("upstream_status", tagged.Status))...)
		status := http.StatusBadGateway
		switch tagged.Code {
		case oauthkit.CodePermissionDenied:
			status = http.StatusForbidden
		case oauthkit.CodeRateLimited:
			status = http.StatusTooManyRequests
		}
		contextGin.AbortWithStatusJSON(status, gin.H{
			"error": "Failed to fetch data from " + displayName(serviceName) + ": " + tagged.Detail,
			"code":  providerResponseCode(tagged.Code),
		})
	case oauthkit.KindTransportError:
		logger.Warn("provider unreachable", fields...)
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error": displayName(serviceName) + " is unreachable",
			"code":  tagged.Code,
		})
	default:
		logger.Error("integration request failed", fields...)
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
			"code":  codeInternalError,
		})
	}
}

// providerResponseCode hides the UNAUTHORIZED code, which only drives the refresh path.
func providerResponseCode(code string) string {
	if code == oauthkit.CodeUnauthorized {
		return oauthkit.CodeAPIError
	}
	return code
}

func isNotConnected(err error) bool {
	return errors.Is(err, oauthkit.ErrNotConnected)
}
