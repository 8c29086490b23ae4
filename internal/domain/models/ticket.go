package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusValidated      Status = "VALIDATED"
	StatusExpired        Status = "EXPIRED"
	StatusCancelled      Status = "CANCELLED"
)

// TicketType is the fare product a ticket was sold as.
type TicketType string

const (
	TicketSingle TicketType = "SINGLE"
	TicketFlexi  TicketType = "FLEXI"
)

// Ticket mirrors the tickets table. ID, PassengerID, TripID, TicketType,
// Amount, Currency, ValidFrom and ValidUntil never change after issuance.
type Ticket struct {
	ID              string          `json:"ticketId"`
	PassengerID     string          `json:"passengerId"`
	TripID          string          `json:"tripId"`
	TicketType      TicketType      `json:"ticketType"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	ValidFrom       time.Time       `json:"validFrom"`
	ValidUntil      time.Time       `json:"validUntil"`
	ValidatedAt     *time.Time      `json:"validatedAt,omitempty"`
	ValidatedTripID string          `json:"validatedTripId,omitempty"`
	PaymentRef      string          `json:"paymentRef,omitempty"`
	PaymentFailures int             `json:"paymentFailures"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// InWindow reports whether at lies within [ValidFrom, ValidUntil], bounds inclusive.
func (t Ticket) InWindow(at time.Time) bool {
	return !at.Before(t.ValidFrom) && !at.After(t.ValidUntil)
}

// TripStatus as reported by the trip catalog.
type TripStatus string

const (
	TripScheduled TripStatus = "SCHEDULED"
	TripActive    TripStatus = "ACTIVE"
	TripDeparted  TripStatus = "DEPARTED"
	TripCancelled TripStatus = "CANCELLED"
)

// TripFare is what issuance needs from the catalog.
type TripFare struct {
	TripID        string          `json:"tripId"`
	RouteID       string          `json:"routeId"`
	Fare          decimal.Decimal `json:"fare"`
	Currency      string          `json:"currency"`
	DepartureTime time.Time       `json:"departureTime"`
	Status        TripStatus      `json:"status"`
}

// OpenForSale reports whether a ticket may still be sold at now.
func (f TripFare) OpenForSale(now time.Time) bool {
	switch f.Status {
	case TripDeparted, TripCancelled:
		return false
	}
	return now.Before(f.DepartureTime)
}

// PaymentOutcome is what the gateway reports for one payment reference.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentFailed    PaymentOutcome = "failed"
)

func (o PaymentOutcome) Valid() bool {
	return o == PaymentSucceeded || o == PaymentFailed
}

// PaymentApplication records that a payment reference has been applied,
// and the result it produced, so duplicates replay the same answer.
type PaymentApplication struct {
	PaymentRef   string         `json:"paymentRef"`
	TicketID     string         `json:"ticketId"`
	Outcome      PaymentOutcome `json:"outcome"`
	ResultStatus Status         `json:"status"`
	NextRef      string         `json:"nextPaymentRef,omitempty"`
	AppliedAt    time.Time      `json:"appliedAt"`
}

// LifecycleEvent is emitted on every status change.
type LifecycleEvent struct {
	TicketID    string    `json:"ticketId"`
	PassengerID string    `json:"passengerId"`
	TripID      string    `json:"tripId"`
	FromStatus  Status    `json:"fromStatus"`
	ToStatus    Status    `json:"toStatus"`
	Timestamp   time.Time `json:"timestamp"`
}
