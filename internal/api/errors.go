package api

import (
	"context"
	"errors"
	"net/http"

	"design-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrDuplicatePendingAttempt, http.StatusConflict, "duplicate_pending_attempt"},
	{models.ErrReasonRequired, http.StatusBadRequest, "reason_required"},
	{models.ErrMissingCallbackParameters, http.StatusBadRequest, "missing_callback_parameters"},
	{models.ErrUnrecognizedCallback, http.StatusBadRequest, "unrecognized_callback"},
	{models.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{models.ErrUnknownGateway, http.StatusBadRequest, "unknown_gateway"},
	{models.ErrForbidden, http.StatusForbidden, "forbidden"},
	{models.ErrNotFound, http.StatusNotFound, "not_found"},
	{models.ErrBusy, http.StatusLocked, "busy"},
	{models.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// writeError maps the error taxonomy onto HTTP. Unmapped errors are internal.
func (h *Handler) writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status == http.StatusLocked || m.status == http.StatusServiceUnavailable {
				c.Header("Retry-After", "1")
			}
			c.JSON(m.status, gin.H{
				"error":   m.code,
				"details": err.Error(),
			})
			return
		}
	}

	h.logger.Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "internal_error",
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"details": err.Error(),
	})
}
