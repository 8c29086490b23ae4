package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
	"ticketing/internal/services"
	"ticketing/internal/utils"
)

type issueTicketRequest struct {
	PassengerID string `json:"passengerId"`
	TripID      string `json:"tripId"`
	TicketType  string `json:"ticketType"`
}

type validateTicketRequest struct {
	TicketID    string `json:"ticketId"`
	TripID      string `json:"tripId"`
	ValidatedAt string `json:"validatedAt"`
}

// IssueTicket creates a PENDING_PAYMENT ticket for a trip.
func IssueTicket(c *gin.Context) {
	var req issueTicketRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	res, err := ticketService(c).IssueTicket(c.Request.Context(), services.IssueTicketInput{
		PassengerID: req.PassengerID,
		TripID:      req.TripID,
		TicketType:  models.TicketType(req.TicketType),
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func GetTicket(c *gin.Context) {
	t, err := ticketService(c).GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func ListPassengerTickets(c *gin.Context) {
	list, err := ticketService(c).ListPassengerTickets(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": list, "count": len(list)})
}

func ListTripTickets(c *gin.Context) {
	list, err := ticketService(c).ListTripTickets(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": list, "count": len(list)})
}

func TicketStats(c *gin.Context) {
	stats, err := ticketService(c).TicketStats(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ValidateTicket boards the ticket in the path on the trip in the body.
func ValidateTicket(c *gin.Context) {
	var req validateTicketRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	req.TicketID = c.Param("id")
	validate(c, req)
}

// LegacyValidate accepts {ticketId, tripId} in the body, as the validator
// page posts it.
func LegacyValidate(c *gin.Context) {
	var req validateTicketRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	validate(c, req)
}

func validate(c *gin.Context, req validateTicketRequest) {
	at, err := utils.ParseTimestamp(req.ValidatedAt)
	if err != nil {
		RespondDomainError(c, domain.ValidationError{Field: "validatedAt", Msg: "expected RFC3339 timestamp", Err: err})
		return
	}
	svc := ticketService(c)
	if !at.IsZero() {
		skew := current().MaxClockSkew
		if skew <= 0 {
			skew = defaultMaxClockSkew
		}
		if d := at.Sub(svc.Now()); d > skew || d < -skew {
			RespondDomainError(c, domain.ValidationError{Field: "validatedAt", Msg: "more than " + skew.String() + " from server time"})
			return
		}
	}
	res, err := svc.ValidateTicket(c.Request.Context(), req.TicketID, strings.TrimSpace(req.TripID), at)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"ticketId":    res.TicketID,
		"tripId":      res.TripID,
		"validatedAt": res.ValidatedAt.Format(time.RFC3339),
		"replayed":    res.Replayed,
		"message":     "ticket validated",
	})
}
