package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ticketing/internal/domain"
	"ticketing/internal/http/middleware"
	"ticketing/internal/utils"
)

func respondError(c *gin.Context, status int, code, message string, details any) {
	if code == "" {
		code = http.StatusText(status)
	}
	body := gin.H{
		"error":      message,
		"code":       code,
		"message":    message,
		"request_id": middleware.GetRequestID(c),
	}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, body)
}

// RespondDomainError maps domain errors to HTTP responses.
func RespondDomainError(c *gin.Context, err error) {
	if kind, ok := domain.KindOf(err); ok {
		status := statusForClass(kind.Class())
		if domain.IsRetryable(err) {
			c.Header("Retry-After", "1")
		}
		respondError(c, status, strings.ToLower(string(kind)), err.Error(), nil)
		return
	}

	switch {
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "conflict", err.Error(), nil)
	default:
		utils.LogEvent(middleware.GetRequestID(c), "http", "error", c.FullPath()+": "+err.Error())
		respondError(c, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func statusForClass(class domain.Class) int {
	switch class {
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassStateConflict:
		return http.StatusConflict
	case domain.ClassTimeWindow:
		return http.StatusGone
	case domain.ClassUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
