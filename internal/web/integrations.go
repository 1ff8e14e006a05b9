package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/insightdash/internal/oauthkit"
)

var knownServices = []string{
	oauthkit.ServiceGmail,
	oauthkit.ServiceSearchConsole,
	oauthkit.ServiceAnalytics,
}

type integrationStatus struct {
	Service         string     `json:"service"`
	Connected       bool       `json:"connected"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

func statusFromRecord(serviceName string, record oauthkit.CredentialRecord) integrationStatus {
	status := integrationStatus{
		Service:         serviceName,
		Connected:       record.AccessToken != "",
		HasRefreshToken: record.HasRefreshToken(),
	}
	if !record.ExpiresAt.IsZero() {
		expiresAt := record.ExpiresAt
		status.ExpiresAt = &expiresAt
	}
	return status
}

func (handlers *dashboardHandlers) serviceParam(contextGin *gin.Context) (string, bool) {
	serviceName := contextGin.Param("service")
	if !oauthkit.KnownService(serviceName) {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown integration"})
		return "", false
	}
	return serviceName, true
}

func (handlers *dashboardHandlers) handleListIntegrations(contextGin *gin.Context) {
	userID, ok := handlers.userID(contextGin)
	if !ok {
		return
	}
	statuses := make([]integrationStatus, 0, len(knownServices))
	for _, serviceName := range knownServices {
		record, err := handlers.Credentials.Get(contextGin.Request.Context(), userID, serviceName)
		if err != nil && !errors.Is(err, oauthkit.ErrCredentialNotFound) {
			handlers.Logger.Error("integration lookup failed",
				zap.String("code", "web.integrations.lookup_failed"),
				zap.String("service", serviceName),
				zap.String("request_id", RequestIDFromContext(contextGin)),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": codeInternalError})
			return
		}
		statuses = append(statuses, statusFromRecord(serviceName, record))
	}
	contextGin.JSON(http.StatusOK, gin.H{"integrations": statuses})
}

// handlePutIntegration stores the outcome of the external OAuth consent flow.
func (handlers *dashboardHandlers) handlePutIntegration(contextGin *gin.Context) {
	userID, ok := handlers.userID(contextGin)
	if !ok {
		return
	}
	serviceName, ok := handlers.serviceParam(contextGin)
	if !ok {
		return
	}
	var inbound struct {
		AccessToken  string     `json:"access_token"`
		RefreshToken string     `json:"refresh_token"`
		ExpiresAt    *time.Time `json:"expires_at"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.AccessToken) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "access_token is required"})
		return
	}

	ctx := contextGin.Request.Context()
	record := oauthkit.CredentialRecord{
		UserID:       userID,
		ServiceName:  serviceName,
		AccessToken:  strings.TrimSpace(inbound.AccessToken),
		RefreshToken: strings.TrimSpace(inbound.RefreshToken),
	}
	if inbound.ExpiresAt != nil {
		record.ExpiresAt = inbound.ExpiresAt.UTC()
	}
	if record.RefreshToken == "" {
		// Google omits the refresh token on repeat consent; keep the one on file.
		existing, err := handlers.Credentials.Get(ctx, userID, serviceName)
		switch {
		case err == nil:
			record.RefreshToken = existing.RefreshToken
		case !errors.Is(err, oauthkit.ErrCredentialNotFound):
			// Saving now would drop the refresh token on file.
			handlers.Logger.Error("integration lookup failed",
				zap.String("code", "web.integrations.lookup_failed"),
				zap.String("service", serviceName),
				zap.String("request_id", RequestIDFromContext(contextGin)),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": codeInternalError})
			return
		}
	}
	if err := handlers.Credentials.Upsert(ctx, record); err != nil {
		handlers.Logger.Error("integration save failed",
			zap.String("code", "web.integrations.save_failed"),
			zap.String("service", serviceName),
			zap.String("request_id", RequestIDFromContext(contextGin)),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": codeInternalError})
		return
	}
	handlers.Logger.Info("integration connected",
		zap.String("code", "web.integrations.connected"),
		zap.String("service", serviceName),
		zap.String("user_id", userID))
	contextGin.JSON(http.StatusOK, statusFromRecord(serviceName, record))
}

func (handlers *dashboardHandlers) handleDeleteIntegration(contextGin *gin.Context) {
	userID, ok := handlers.userID(contextGin)
	if !ok {
		return
	}
	serviceName, ok := handlers.serviceParam(contextGin)
	if !ok {
		return
	}
	err := handlers.Credentials.Delete(contextGin.Request.Context(), userID, serviceName)
	switch {
	case err == nil:
		handlers.Logger.Info("integration disconnected",
			zap.String("code", "web.integrations.disconnected"),
			zap.String("service", serviceName),
			zap.String("user_id", userID))
		contextGin.Status(http.StatusNoContent)
	case errors.Is(err, oauthkit.ErrCredentialNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "integration not found"})
	default:
		handlers.Logger.Error("integration delete failed",
			zap.String("code", "web.integrations.delete_failed"),
			zap.String("service", serviceName),
			zap.String("request_id", RequestIDFromContext(contextGin)),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": codeInternalError})
	}
}
