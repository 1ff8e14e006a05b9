package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/insightdash/internal/oauthkit"
	"github.com/tyemirov/insightdash/internal/providers"
	"github.com/tyemirov/insightdash/pkg/sessionvalidator"
)

const maxOverviewDays = 365

// MessageLister lists normalized Gmail messages.
type MessageLister interface {
	ListMessages(ctx context.Context, accessToken string, query providers.MessageQuery) (providers.MessagePage, error)
}

// SiteLister lists Search Console sites.
type SiteLister interface {
	ListSites(ctx context.Context, accessToken string) ([]providers.Site, error)
}

// OverviewReporter summarizes a GA4 property.
type OverviewReporter interface {
	Overview(ctx context.Context, accessToken string, query providers.OverviewQuery) (providers.Overview, error)
}

// MetricsSnapshotter exposes token lifecycle counters.
type MetricsSnapshotter interface {
	Snapshot() map[string]int64
}

// Dependencies wires the dashboard API.
type Dependencies struct {
	Engine        *oauthkit.Engine
	Credentials   oauthkit.CredentialStore
	Gmail         MessageLister
	SearchConsole SiteLister
	Analytics     OverviewReporter
	// Authenticate rejects anonymous requests and stores session claims under ClaimsContextKey.
	Authenticate     gin.HandlerFunc
	ClaimsContextKey string
	Metrics          MetricsSnapshotter
	Logger           *zap.Logger

	DefaultAnalyticsProperty string
	GmailMaxResults          int
}

type dashboardHandlers struct {
	Dependencies
}

// MountDashboardRoutes registers /healthz plus the session-protected /internal/metrics and /api routes.
func MountDashboardRoutes(router gin.IRouter, dependencies Dependencies) error {
	switch {
	case dependencies.Engine == nil:
		return errors.New("web.mount: token engine is required")
	case dependencies.Credentials == nil:
		return errors.New("web.mount: credential store is required")
	case dependencies.Gmail == nil || dependencies.SearchConsole == nil || dependencies.Analytics == nil:
		return errors.New("web.mount: provider clients are required")
	case dependencies.Authenticate == nil:
		return errors.New("web.mount: session middleware is required")
	}
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.GmailMaxResults <= 0 {
		dependencies.GmailMaxResults = providers.DefaultGmailMaxResults
	}
	handlers := &dashboardHandlers{Dependencies: dependencies}

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/internal/metrics", dependencies.Authenticate, handlers.handleMetrics)

	api := router.Group("/api", dependencies.Authenticate)
	api.GET("/gmail/messages", handlers.handleGmailMessages)
	api.GET("/search-console/sites", handlers.handleSearchConsoleSites)
	api.GET("/analytics/overview", handlers.handleAnalyticsOverview)
	api.POST("/analytics/overview", handlers.handleAnalyticsOverview)
	api.GET("/integrations", handlers.handleListIntegrations)
	api.PUT("/integrations/:service", handlers.handlePutIntegration)
	api.DELETE("/integrations/:service", handlers.handleDeleteIntegration)
	return nil
}

func (handlers *dashboardHandlers) userID(contextGin *gin.Context) (string, bool) {
	claims, ok := sessionvalidator.ClaimsFromContext(contextGin, handlers.ClaimsContextKey)
	if !ok || claims.GetUserID() == "" {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	return claims.GetUserID(), true
}

func (handlers *dashboardHandlers) handleMetrics(contextGin *gin.Context) {
	counters := map[string]int64{}
	if handlers.Metrics != nil {
		counters = handlers.Metrics.Snapshot()
	}
	contextGin.JSON(http.StatusOK, gin.H{"counters": counters})
}

func (handlers *dashboardHandlers) handleGmailMessages(contextGin *gin.Context) {
	userID, ok := handlers.userID(contextGin)
	if !ok {
		return
	}
	maxResults := handlers.GmailMaxResults
	if raw := strings.TrimSpace(contextGin.Query("max_results")); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed <= 0 {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "max_results must be a positive integer"})
			return
		}
		maxResults = parsed
	}
	query := providers.MessageQuery{
		Query:      contextGin.Query("q"),
		MaxResults: maxResults,
		PageToken:  contextGin.Query("page_token"),
	}

	page, err := oauthkit.Execute(contextGin.Request.Context(), handlers.Engine, userID, oauthkit.ServiceGmail,
		func(ctx context.Context, accessToken string) (providers.MessagePage, error) {
			return handlers.Gmail.ListMessages(ctx, accessToken, query)
		})
	if err != nil {
		respondIntegrationError(contextGin, handlers.Logger, oauthkit.ServiceGmail, err)
		return
	}

	var nextPageToken *string
	if page.NextPageToken != "" {
		nextPageToken = &page.NextPageToken
	}
	emails := page.Messages
	if emails == nil {
		emails = []providers.MessageSummary{}
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"emails":        emails,
		"nextPageToken": nextPageToken,
	})
}

func (handlers *dashboardHandlers) handleSearchConsoleSites(contextGin *gin.Context) {
	userID, ok := handlers.userID(contextGin)
	if !ok {
		return
	}
	sites, err := oauthkit.Execute(contextGin.Request.Context(), handlers.Engine, userID, oauthkit.ServiceSearchConsole,
		func(ctx context.Context, accessToken string) ([]providers.Site, error) {
			return handlers.SearchConsole.ListSites(ctx, accessToken)
		})
	if err != nil {
		respondIntegrationError(contextGin, handlers.Logger, oauthkit.ServiceSearchConsole, err)
		return
	}
	if sites == nil {
		sites = []providers.Site{}
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"sites":   sites,
		"total":   len(sites),
		"message": fmt.Sprintf("Found %d Search Console sites", len(sites)),
	})
}

func (handlers *dashboardHandlers) handleAnalyticsOverview(contextGin *gin.Context) {
	userID, ok := handlers.userID(contextGin)
	if !ok {
		return
	}
	propertyID := strings.TrimSpace(contextGin.Query("property_id"))
	if propertyID == "" {
		propertyID = handlers.DefaultAnalyticsProperty
	}
	days := providers.DefaultOverviewDays
	if raw := strings.TrimSpace(contextGin.Query("days")); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed <= 0 || parsed > maxOverviewDays {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = parsed
	}
	query := providers.OverviewQuery{PropertyID: propertyID, Days: days}

	overview, err := oauthkit.Execute(contextGin.Request.Context(), handlers.Engine, userID, oauthkit.ServiceAnalytics,
		func(ctx context.Context, accessToken string) (providers.Overview, error) {
			// Checked after the token lookup so a disconnected user still gets zeros.
			if query.PropertyID == "" {
				return providers.Overview{}, fmt.Errorf("web.analytics.overview: %w", providers.ErrMissingProperty)
			}
			return handlers.Analytics.Overview(ctx, accessToken, query)
		})
	if err != nil {
		if isNotConnected(err) {
			// The dashboard renders zeroed tiles until Analytics is connected.
			contextGin.JSON(http.StatusOK, gin.H{"analytics": providers.Overview{}})
			return
		}
		if errors.Is(err, providers.ErrMissingProperty) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "property_id is required"})
			return
		}
		respondIntegrationError(contextGin, handlers.Logger, oauthkit.ServiceAnalytics, err)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"analytics": overview})
}
