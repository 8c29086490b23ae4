package domain

import (
	"errors"
	"fmt"
)

// Store-level sentinels. Stores return them unwrapped or wrapped with %w.
var (
	// ErrStaleVersion means a compare-and-swap write found a different version.
	ErrStaleVersion = errors.New("ticket version changed")
	// ErrDuplicatePaymentRef means the payment reference was already applied.
	ErrDuplicatePaymentRef = errors.New("payment reference already applied")
	// ErrDuplicateTicket means a ticket with the same id already exists.
	ErrDuplicateTicket = errors.New("ticket already exists")
)

type NotFoundError struct {
	Resource string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

type InternalError struct {
	Msg string
	Err error
}

func (e InternalError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

func (e InternalError) Unwrap() error { return e.Err }

// Kind names one typed outcome of a lifecycle operation.
type Kind string

const (
	KindTripNotFound       Kind = "TRIP_NOT_FOUND"
	KindTicketNotFound     Kind = "TICKET_NOT_FOUND"
	KindPassengerNotFound  Kind = "PASSENGER_NOT_FOUND"
	KindTripClosed         Kind = "TRIP_CLOSED"
	KindCatalogUnavailable Kind = "CATALOG_UNAVAILABLE"

	KindPassengerDirectoryUnavailable Kind = "PASSENGER_DIRECTORY_UNAVAILABLE"
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
	KindConflict           Kind = "CONFLICT"
	KindNotPayable         Kind = "NOT_PAYABLE"
	KindExpired            Kind = "EXPIRED"
	KindAlreadyUsed        Kind = "ALREADY_USED"
)

// Class groups kinds by how a caller should react.
type Class string

const (
	ClassNotFound      Class = "not_found"
	ClassStateConflict Class = "state_conflict"
	ClassTimeWindow    Class = "time_window"
	ClassUnavailable   Class = "unavailable"
)

func (k Kind) Class() Class {
	switch k {
	case KindTripNotFound, KindTicketNotFound, KindPassengerNotFound:
		return ClassNotFound
	case KindExpired:
		return ClassTimeWindow
	case KindCatalogUnavailable, KindPassengerDirectoryUnavailable:
		return ClassUnavailable
	default:
		// TripClosed is a state of the trip, not a missing record.
		return ClassStateConflict
	}
}

// TicketError is the typed failure returned by the lifecycle engine.
type TicketError struct {
	Kind     Kind
	TicketID string
	Msg      string
	Err      error
}

func (e TicketError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.TicketID != "" {
		msg = fmt.Sprintf("ticket %s: %s", e.TicketID, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e TicketError) Unwrap() error { return e.Err }

func NewTicketError(kind Kind, ticketID, msg string) TicketError {
	return TicketError{Kind: kind, TicketID: ticketID, Msg: msg}
}

// KindOf returns the kind of the first TicketError in err's chain.
func KindOf(err error) (Kind, bool) {
	var target TicketError
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return "", false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable reports whether the same call may succeed later without new input.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == KindConflict || k.Class() == ClassUnavailable
}

func IsNotFound(err error) bool {
	var target NotFoundError
	if errors.As(err, &target) {
		return true
	}
	k, ok := KindOf(err)
	return ok && k.Class() == ClassNotFound
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsInternal(err error) bool {
	var target InternalError
	return errors.As(err, &target)
}
