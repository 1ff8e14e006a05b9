package web

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "request_id"
	maxRequestIDLength  = 128
)

// RequestID tags every request with an id, reusing a sane inbound X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		requestID := strings.TrimSpace(contextGin.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		contextGin.Set(requestIDContextKey, requestID)
		contextGin.Header(requestIDHeader, requestID)
		contextGin.Next()
	}
}

// RequestIDFromContext returns the id assigned by RequestID, or an empty string.
func RequestIDFromContext(contextGin *gin.Context) string {
	return contextGin.GetString(requestIDContextKey)
}
