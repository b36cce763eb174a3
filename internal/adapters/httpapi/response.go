package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"workassign/internal/adapters/reports"
	"workassign/internal/blob"
	"workassign/pkg/domain"
)

// APIError is the body of every failed response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes err in the error envelope.
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// RespondOK writes payload with status 200.
func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondErr maps domain and adapter errors to a status and code.
func respondErr(c *gin.Context, err error) {
	var rv domain.RuleViolationError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.As(err, &rv):
		RespondError(c, http.StatusBadRequest, "rule_violation", err)
	case errors.Is(err, domain.ErrInvalid), errors.Is(err, reports.ErrUnknownFormat):
		RespondError(c, http.StatusBadRequest, "invalid", err)
	case errors.Is(err, domain.ErrConflict):
		RespondError(c, http.StatusBadRequest, "conflict", err)
	case errors.Is(err, reports.ErrQueueFull):
		RespondError(c, http.StatusServiceUnavailable, "queue_full", err)
	case errors.Is(err, reports.ErrStopped):
		RespondError(c, http.StatusServiceUnavailable, "stopped", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
