package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/apperror"
)

// retryAfterSeconds is advertised on Retryable failures
const retryAfterSeconds = "1"

// respondError maps a domain error onto its HTTP status and JSON body
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperror.KindOf(err)
	status := kind.HTTPStatus()

	body := gin.H{
		"error": err.Error(),
		"kind":  kind,
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		body["error"] = appErr.Message
		if len(appErr.Fields) > 0 {
			body["details"] = appErr.Fields
		}
	}

	switch {
	case kind == apperror.KindRetryable:
		c.Header("Retry-After", retryAfterSeconds)
		body["retryable"] = true
	case status >= http.StatusInternalServerError:
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["error"] = "internal error"
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// bindJSON decodes the request body and writes a 400 on malformed input
func bindJSON(c *gin.Context, logger *zap.Logger, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		logger.Debug("Invalid request payload", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request payload",
			"kind":    apperror.KindValidation,
			"details": gin.H{"body": err.Error()},
		})
		return false
	}
	return true
}

// pathID parses a UUID path parameter and writes a 400 when it is malformed
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "invalid " + name,
			"kind":    apperror.KindValidation,
			"details": gin.H{name: "must be a UUID"},
		})
		return uuid.Nil, false
	}
	return id, true
}

// noteRequest is the optional body of review and withdraw calls
type noteRequest struct {
	Note string `json:"note"`
}

// bindOptionalNote accepts an empty body as an empty note
func bindOptionalNote(c *gin.Context, logger *zap.Logger) (string, bool) {
	var req noteRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if !bindJSON(c, logger, &req) {
		return "", false
	}
	return req.Note, true
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	checks map[string]HealthChecker
	logger *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks map[string]HealthChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logger.Named("health_handler"),
	}
}

// Health returns basic health status
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "citation-engine",
	})
}

// Ready returns readiness status including dependency connectivity
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			h.logger.Error("Health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "connected"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "dependencies": deps})
}
