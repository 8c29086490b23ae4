package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ticketing/internal/domain"
	"ticketing/internal/http/middleware"
	"ticketing/internal/utils"
)

type sweepRequest struct {
	Now string `json:"now"`
}

// SweepExpired runs one expiry sweep. The body is optional; "now" overrides
// the sweep time.
func SweepExpired(c *gin.Context) {
	var req sweepRequest
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<10))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "cannot read body", err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid payload", err)
			return
		}
	}
	now, err := utils.ParseTimestamp(req.Now)
	if err != nil {
		RespondDomainError(c, domain.ValidationError{Field: "now", Msg: "expected RFC3339 timestamp", Err: err})
		return
	}

	n, err := ticketService(c).SweepExpired(c.Request.Context(), now)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	caller := middleware.Caller(c)
	utils.LogEvent(middleware.GetRequestID(c), "admin", "sweep", fmt.Sprintf("by=%s role=%s expired=%d", safeSubject(caller), caller.Role, n))
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func safeSubject(rc domain.RequestContext) string {
	if rc.Subject == "" {
		return "-"
	}
	return rc.Subject
}
