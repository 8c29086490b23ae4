package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"ticketing/internal/http/middleware"
	"ticketing/internal/services"
)

// Deps are the collaborators handlers run against. Set once at startup.
type Deps struct {
	Tickets        services.TicketService
	CallbackSecret string
	// MaxClockSkew bounds how far a client-supplied validatedAt may sit
	// from the server clock. Zero means defaultMaxClockSkew.
	MaxClockSkew time.Duration
}

const defaultMaxClockSkew = 5 * time.Minute

var (
	depsMu sync.RWMutex
	deps   Deps
)

func Configure(d Deps) {
	depsMu.Lock()
	defer depsMu.Unlock()
	deps = d
}

func current() Deps {
	depsMu.RLock()
	defer depsMu.RUnlock()
	return deps
}

// ticketService returns the engine bound to the request's id for logging.
func ticketService(c *gin.Context) services.TicketService {
	svc := current().Tickets
	svc.RequestID = middleware.GetRequestID(c)
	return svc
}

// RespondError sends standard error payload with request_id included.
// Keeps backward compatibility by always providing "message".
func RespondError(c *gin.Context, status int, message string, err error) {
	payload := gin.H{
		"message":    message,
		"request_id": middleware.GetRequestID(c),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	c.JSON(status, payload)
}

// BindJSONOrError ensures body is present and parsable.
func BindJSONOrError[T any](c *gin.Context, dst *T) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		RespondError(c, http.StatusBadRequest, "empty body", nil)
		return false
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid payload", err)
		return false
	}
	return true
}
