package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"go.ngs.io/nexgddp-api/internal/domain"
)

// statusFor maps a use case error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyInput),
		errors.Is(err, domain.ErrUnknownVariable),
		errors.Is(err, domain.ErrUnknownScenario),
		errors.Is(err, domain.ErrInvalidGeometry),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoOverlap):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrReadLimit):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrStoreOpen):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
