package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticketing/internal/config"
	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
	"ticketing/internal/metrics"
	"ticketing/internal/tracing"
	"ticketing/internal/utils"
)

const (
	DefaultMaxCASAttempts     = 5
	DefaultMaxPaymentFailures = 3
	defaultSweepBatch         = 200
)

// TicketStore is the persistence contract the engine relies on. Update is a
// compare-and-swap: it must fail with domain.ErrStaleVersion unless the stored
// version equals expectedVersion, and must record app (when non-nil) in the
// same atomic write, failing with domain.ErrDuplicatePaymentRef if the
// reference was already recorded.
type TicketStore interface {
	Insert(ctx context.Context, t models.Ticket) error
	Get(ctx context.Context, id string) (models.Ticket, error)
	Update(ctx context.Context, next models.Ticket, expectedVersion int64, app *models.PaymentApplication) error
	GetPaymentApplication(ctx context.Context, ref string) (models.PaymentApplication, bool, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.Ticket, error)
	ListByPassenger(ctx context.Context, passengerID string) ([]models.Ticket, error)
	ListByTrip(ctx context.Context, tripID string) ([]models.Ticket, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)
	Ping(ctx context.Context) error
}

type TripCatalog interface {
	GetTripFare(ctx context.Context, tripID string) (models.TripFare, error)
}

type PassengerDirectory interface {
	PassengerExists(ctx context.Context, passengerID string) (bool, error)
}

// EventEmitter must not block.
type EventEmitter interface {
	Emit(evt models.LifecycleEvent)
}

// TicketService is the ticket lifecycle engine. It holds no per-ticket state;
// every transition is a read followed by a versioned write against Store.
type TicketService struct {
	Store      TicketStore
	Catalog    TripCatalog
	Passengers PassengerDirectory
	Policy     config.TicketPolicy
	Events     EventEmitter
	Clock      domain.Clock

	MaxCASAttempts     int
	MaxPaymentFailures int
	SweepBatch         int

	RequestID string
}

type IssueTicketInput struct {
	PassengerID string            `json:"passengerId"`
	TripID      string            `json:"tripId"`
	TicketType  models.TicketType `json:"ticketType"`
}

type IssueTicketResult struct {
	TicketID   string            `json:"ticketId"`
	TicketType models.TicketType `json:"ticketType"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	Status     models.Status     `json:"status"`
	ValidFrom  time.Time         `json:"validFrom"`
	ValidUntil time.Time         `json:"validUntil"`
	PaymentRef string            `json:"paymentRef"`
}

type PaymentResult struct {
	TicketID       string        `json:"ticketId"`
	PaymentRef     string        `json:"paymentRef"`
	Status         models.Status `json:"status"`
	NextPaymentRef string        `json:"nextPaymentRef,omitempty"`
	Replayed       bool          `json:"replayed"`
}

type ValidationResult struct {
	TicketID    string    `json:"ticketId"`
	TripID      string    `json:"tripId"`
	ValidatedAt time.Time `json:"validatedAt"`
	Replayed    bool      `json:"replayed"`
}

type TicketStats struct {
	Total    int64                   `json:"total"`
	ByStatus map[models.Status]int64 `json:"byStatus"`
}

// IssueTicket prices a ticket from the trip catalog and stores it as
// PENDING_PAYMENT with its first payment reference.
func (s TicketService) IssueTicket(ctx context.Context, in IssueTicketInput) (res IssueTicketResult, err error) {
	ctx, span := s.start(ctx, "ticket.issue", attribute.String("trip.id", in.TripID))
	begin := time.Now()
	defer func() { s.end(span, "issue", begin, err) }()

	in.PassengerID = strings.TrimSpace(in.PassengerID)
	in.TripID = strings.TrimSpace(in.TripID)
	in.TicketType = models.TicketType(strings.ToUpper(strings.TrimSpace(string(in.TicketType))))
	if in.TicketType == "" {
		in.TicketType = models.TicketSingle
	}
	if in.PassengerID == "" {
		return res, domain.ValidationError{Field: "passengerId", Msg: "required"}
	}
	if in.TripID == "" {
		return res, domain.ValidationError{Field: "tripId", Msg: "required"}
	}
	rule, ok := s.Policy.Rule(in.TicketType)
	if !ok {
		return res, domain.ValidationError{Field: "ticketType", Msg: "unsupported ticket type " + string(in.TicketType)}
	}

	if s.Passengers == nil {
		return res, domain.InternalError{Msg: "passenger directory not configured"}
	}
	exists, err := s.Passengers.PassengerExists(ctx, in.PassengerID)
	if err != nil {
		if _, typed := domain.KindOf(err); typed {
			return res, err
		}
		return res, domain.TicketError{Kind: domain.KindPassengerDirectoryUnavailable, Msg: "passenger lookup failed", Err: err}
	}
	if !exists {
		return res, domain.NewTicketError(domain.KindPassengerNotFound, "", "passenger "+in.PassengerID+" not found")
	}

	fare, err := s.Catalog.GetTripFare(ctx, in.TripID)
	if err != nil {
		if _, typed := domain.KindOf(err); typed {
			return res, err
		}
		return res, domain.TicketError{Kind: domain.KindCatalogUnavailable, Msg: "trip catalog lookup failed", Err: err}
	}

	now := s.now()
	if !fare.OpenForSale(now) {
		return res, domain.NewTicketError(domain.KindTripClosed, "", "trip "+in.TripID+" is not open for sale")
	}

	t := models.Ticket{
		ID:          uuid.NewString(),
		PassengerID: in.PassengerID,
		TripID:      in.TripID,
		TicketType:  in.TicketType,
		Amount:      fare.Fare,
		Currency:    fare.Currency,
		Status:      models.StatusPendingPayment,
		ValidFrom:   now,
		ValidUntil:  fare.DepartureTime.Add(rule.GracePeriod),
		PaymentRef:  newPaymentRef(),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Store.Insert(ctx, t); err != nil {
		return res, fmt.Errorf("insert ticket: %w", err)
	}

	metrics.TicketsIssued.WithLabelValues(string(t.TicketType)).Inc()
	utils.LogEvent(s.RequestID, "ticket", "issue", fmt.Sprintf("ticket=%s trip=%s type=%s amount=%s", t.ID, t.TripID, t.TicketType, t.Amount.StringFixed(2)))
	s.emit(t, "", now)

	return IssueTicketResult{
		TicketID:   t.ID,
		TicketType: t.TicketType,
		Amount:     t.Amount,
		Currency:   t.Currency,
		Status:     t.Status,
		ValidFrom:  t.ValidFrom,
		ValidUntil: t.ValidUntil,
		PaymentRef: t.PaymentRef,
	}, nil
}

// ConfirmPayment applies a gateway outcome for paymentRef. A reference that
// was already applied returns the recorded result without writing.
func (s TicketService) ConfirmPayment(ctx context.Context, ticketID, paymentRef string, outcome models.PaymentOutcome) (res PaymentResult, err error) {
	ctx, span := s.start(ctx, "ticket.confirm_payment", attribute.String("ticket.id", ticketID), attribute.String("payment.outcome", string(outcome)))
	begin := time.Now()
	defer func() {
		s.end(span, "confirm_payment", begin, err)
		metrics.PaymentOutcomes.WithLabelValues(string(outcome), resultLabel(err)).Inc()
	}()

	ticketID = strings.TrimSpace(ticketID)
	paymentRef = strings.TrimSpace(paymentRef)
	switch {
	case ticketID == "":
		return res, domain.ValidationError{Field: "ticketId", Msg: "required"}
	case paymentRef == "":
		return res, domain.ValidationError{Field: "paymentRef", Msg: "required"}
	case !outcome.Valid():
		return res, domain.ValidationError{Field: "outcome", Msg: "must be succeeded or failed"}
	}

	for attempt := 0; attempt < s.casAttempts(); attempt++ {
		if prev, ok, err := s.replayPayment(ctx, ticketID, paymentRef); err != nil || ok {
			return prev, err
		}

		cur, err := s.get(ctx, ticketID)
		if err != nil {
			return res, err
		}
		if cur.Status != models.StatusPendingPayment || cur.PaymentRef != paymentRef {
			// A concurrent caller may have applied this same reference
			// between the two reads above.
			if prev, ok, err := s.replayPayment(ctx, ticketID, paymentRef); err != nil || ok {
				return prev, err
			}
			if cur.Status != models.StatusPendingPayment {
				return res, domain.NewTicketError(domain.KindInvalidTransition, ticketID, "payment cannot be applied to a "+string(cur.Status)+" ticket")
			}
			return res, domain.NewTicketError(domain.KindInvalidTransition, ticketID, "payment reference is not the active intent")
		}

		now := s.now()
		next := cur
		next.UpdatedAt = now
		rec := models.PaymentApplication{
			PaymentRef: paymentRef,
			TicketID:   ticketID,
			Outcome:    outcome,
			AppliedAt:  now,
		}
		if outcome == models.PaymentSucceeded {
			next.Status = models.StatusPaid
		} else {
			next.PaymentFailures++
			if next.PaymentFailures >= s.paymentFailureLimit() {
				next.Status = models.StatusCancelled
				next.PaymentRef = ""
			} else {
				next.PaymentRef = newPaymentRef()
				rec.NextRef = next.PaymentRef
			}
		}
		rec.ResultStatus = next.Status
		if err := checkTransition(ticketID, cur.Status, next.Status); err != nil {
			return res, err
		}

		err = s.Store.Update(ctx, next, cur.Version, &rec)
		switch {
		case err == nil:
			if next.Status != cur.Status {
				s.recordTransition(next, cur.Status, now)
			}
			utils.LogEvent(s.RequestID, "payment", "confirm", fmt.Sprintf("ticket=%s outcome=%s status=%s failures=%d", ticketID, outcome, next.Status, next.PaymentFailures))
			return PaymentResult{
				TicketID:       ticketID,
				PaymentRef:     paymentRef,
				Status:         next.Status,
				NextPaymentRef: rec.NextRef,
			}, nil
		case errors.Is(err, domain.ErrStaleVersion), errors.Is(err, domain.ErrDuplicatePaymentRef):
			// Lost the race; the next pass either replays the winner's
			// application or re-reads the ticket.
			metrics.CASConflicts.WithLabelValues("confirm_payment").Inc()
			continue
		default:
			return res, s.storeErr(ticketID, err)
		}
	}

	utils.LogEvent(s.RequestID, "payment", "confirm", "cas attempts exhausted ticket="+ticketID)
	return res, domain.NewTicketError(domain.KindConflict, ticketID, "concurrent updates, retry later")
}

// ValidateTicket consumes a PAID ticket on tripID at the given time (now when
// zero). Re-validating on the same trip replays the original validatedAt.
func (s TicketService) ValidateTicket(ctx context.Context, ticketID, tripID string, at time.Time) (res ValidationResult, err error) {
	ctx, span := s.start(ctx, "ticket.validate", attribute.String("ticket.id", ticketID), attribute.String("trip.id", tripID))
	begin := time.Now()
	defer func() {
		s.end(span, "validate", begin, err)
		metrics.Validations.WithLabelValues(validationLabel(res, err)).Inc()
	}()

	ticketID = strings.TrimSpace(ticketID)
	tripID = strings.TrimSpace(tripID)
	if ticketID == "" {
		return res, domain.ValidationError{Field: "ticketId", Msg: "required"}
	}
	if tripID == "" {
		return res, domain.ValidationError{Field: "tripId", Msg: "required"}
	}
	if at.IsZero() {
		at = s.now()
	}

	for attempt := 0; attempt < s.casAttempts(); attempt++ {
		cur, err := s.get(ctx, ticketID)
		if err != nil {
			return res, err
		}

		switch cur.Status {
		case models.StatusValidated:
			if cur.ValidatedTripID == tripID && cur.ValidatedAt != nil {
				return ValidationResult{TicketID: ticketID, TripID: tripID, ValidatedAt: *cur.ValidatedAt, Replayed: true}, nil
			}
			return res, domain.NewTicketError(domain.KindAlreadyUsed, ticketID, "ticket already used on trip "+cur.ValidatedTripID)
		case models.StatusExpired:
			return res, domain.NewTicketError(domain.KindExpired, ticketID, "ticket has expired")
		case models.StatusPendingPayment:
			return res, domain.NewTicketError(domain.KindNotPayable, ticketID, "ticket has not been paid")
		case models.StatusCancelled:
			return res, domain.NewTicketError(domain.KindNotPayable, ticketID, "ticket was cancelled")
		}

		if !cur.InWindow(at) {
			if at.Before(cur.ValidFrom) {
				return res, domain.NewTicketError(domain.KindExpired, ticketID, "ticket is not yet valid")
			}
			s.expireOpportunistically(ctx, cur)
			return res, domain.NewTicketError(domain.KindExpired, ticketID, "ticket validity window has passed")
		}

		validatedAt := at
		next := cur
		next.Status = models.StatusValidated
		next.ValidatedAt = &validatedAt
		next.ValidatedTripID = tripID
		next.UpdatedAt = s.now()
		if err := checkTransition(ticketID, cur.Status, next.Status); err != nil {
			return res, err
		}

		err = s.Store.Update(ctx, next, cur.Version, nil)
		switch {
		case err == nil:
			s.recordTransition(next, cur.Status, next.UpdatedAt)
			utils.LogEvent(s.RequestID, "ticket", "validate", fmt.Sprintf("ticket=%s trip=%s", ticketID, tripID))
			return ValidationResult{TicketID: ticketID, TripID: tripID, ValidatedAt: validatedAt}, nil
		case errors.Is(err, domain.ErrStaleVersion):
			metrics.CASConflicts.WithLabelValues("validate").Inc()
			continue
		default:
			return res, s.storeErr(ticketID, err)
		}
	}

	utils.LogEvent(s.RequestID, "ticket", "validate", "cas attempts exhausted ticket="+ticketID)
	return res, domain.NewTicketError(domain.KindConflict, ticketID, "concurrent updates, retry later")
}

// SweepExpired moves PENDING_PAYMENT and PAID tickets whose validUntil is
// before now to EXPIRED, in batches, and returns how many it moved.
func (s TicketService) SweepExpired(ctx context.Context, now time.Time) (count int, err error) {
	ctx, span := s.start(ctx, "ticket.sweep")
	begin := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int("sweep.expired", count))
		s.end(span, "sweep", begin, err)
	}()

	if now.IsZero() {
		now = s.now()
	}
	batch := s.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}

	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		candidates, err := s.Store.ListExpirable(ctx, now, batch)
		if err != nil {
			return count, fmt.Errorf("list expirable tickets: %w", err)
		}

		moved := 0
		for _, t := range candidates {
			ok, err := s.expire(ctx, t, now)
			if err != nil {
				utils.LogEvent(s.RequestID, "sweep", "expire", "ticket="+t.ID+" failed: "+err.Error())
				continue
			}
			if ok {
				moved++
			}
		}
		count += moved
		metrics.SweepExpired.Add(float64(moved))

		// A short batch is the tail. A batch with no progress holds only
		// tickets that keep failing, so listing again would loop.
		if len(candidates) < batch || moved == 0 {
			break
		}
	}

	if count > 0 {
		utils.LogEvent(s.RequestID, "sweep", "expire", fmt.Sprintf("expired=%d", count))
	}
	return count, nil
}

func (s TicketService) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return models.Ticket{}, domain.ValidationError{Field: "ticketId", Msg: "required"}
	}
	return s.get(ctx, ticketID)
}

func (s TicketService) ListPassengerTickets(ctx context.Context, passengerID string) ([]models.Ticket, error) {
	passengerID = strings.TrimSpace(passengerID)
	if passengerID == "" {
		return nil, domain.ValidationError{Field: "passengerId", Msg: "required"}
	}
	return s.Store.ListByPassenger(ctx, passengerID)
}

func (s TicketService) ListTripTickets(ctx context.Context, tripID string) ([]models.Ticket, error) {
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return nil, domain.ValidationError{Field: "tripId", Msg: "required"}
	}
	return s.Store.ListByTrip(ctx, tripID)
}

// TicketStats counts tickets per status. Every status is present, zero or not.
func (s TicketService) TicketStats(ctx context.Context) (TicketStats, error) {
	counts, err := s.Store.CountByStatus(ctx)
	if err != nil {
		return TicketStats{}, fmt.Errorf("count tickets: %w", err)
	}
	out := TicketStats{ByStatus: map[models.Status]int64{}}
	for _, st := range []models.Status{
		models.StatusPendingPayment,
		models.StatusPaid,
		models.StatusValidated,
		models.StatusExpired,
		models.StatusCancelled,
	} {
		out.ByStatus[st] = counts[st]
		out.Total += counts[st]
	}
	return out, nil
}

// PaymentTaken reports whether money was collected for t. An EXPIRED ticket
// counts only if its active reference was applied as a success.
func (s TicketService) PaymentTaken(ctx context.Context, t models.Ticket) (bool, error) {
	switch t.Status {
	case models.StatusPaid, models.StatusValidated:
		return true, nil
	case models.StatusExpired:
	default:
		return false, nil
	}
	if t.PaymentRef == "" || s.Store == nil {
		return false, nil
	}
	app, ok, err := s.Store.GetPaymentApplication(ctx, t.PaymentRef)
	if err != nil {
		return false, fmt.Errorf("read payment application: %w", err)
	}
	return ok && app.TicketID == t.ID && app.Outcome == models.PaymentSucceeded, nil
}

// expire moves t to EXPIRED if it is still expirable at now, re-reading on
// version conflicts. It reports whether this call made the transition.
func (s TicketService) expire(ctx context.Context, t models.Ticket, now time.Time) (bool, error) {
	cur := t
	for attempt := 0; attempt < s.casAttempts(); attempt++ {
		if attempt > 0 {
			var err error
			if cur, err = s.get(ctx, t.ID); err != nil {
				return false, err
			}
		}
		if !expirable(cur, now) {
			return false, nil
		}

		next := cur
		next.Status = models.StatusExpired
		next.UpdatedAt = s.now()
		err := s.Store.Update(ctx, next, cur.Version, nil)
		switch {
		case err == nil:
			s.recordTransition(next, cur.Status, next.UpdatedAt)
			return true, nil
		case errors.Is(err, domain.ErrStaleVersion):
			metrics.CASConflicts.WithLabelValues("expire").Inc()
		default:
			return false, s.storeErr(t.ID, err)
		}
	}
	return false, domain.NewTicketError(domain.KindConflict, t.ID, "concurrent updates, retry later")
}

// expireOpportunistically makes one attempt to record an expiry noticed at
// validation time. Losing the race is fine; the sweep catches the rest.
func (s TicketService) expireOpportunistically(ctx context.Context, cur models.Ticket) {
	if !models.CanTransition(cur.Status, models.StatusExpired) {
		return
	}
	next := cur
	next.Status = models.StatusExpired
	next.UpdatedAt = s.now()
	err := s.Store.Update(ctx, next, cur.Version, nil)
	switch {
	case err == nil:
		s.recordTransition(next, cur.Status, next.UpdatedAt)
		utils.LogEvent(s.RequestID, "ticket", "validate", "expired on scan ticket="+cur.ID)
	case errors.Is(err, domain.ErrStaleVersion):
		metrics.CASConflicts.WithLabelValues("expire").Inc()
	default:
		utils.LogEvent(s.RequestID, "ticket", "validate", "expire on scan failed ticket="+cur.ID+": "+err.Error())
	}
}

// replayPayment returns the recorded result when paymentRef was already applied.
func (s TicketService) replayPayment(ctx context.Context, ticketID, paymentRef string) (PaymentResult, bool, error) {
	app, applied, err := s.Store.GetPaymentApplication(ctx, paymentRef)
	if err != nil {
		return PaymentResult{}, false, fmt.Errorf("read payment application: %w", err)
	}
	if !applied {
		return PaymentResult{}, false, nil
	}
	if app.TicketID != ticketID {
		return PaymentResult{}, false, domain.ValidationError{Field: "paymentRef", Msg: "reference belongs to another ticket"}
	}
	return PaymentResult{
		TicketID:       app.TicketID,
		PaymentRef:     app.PaymentRef,
		Status:         app.ResultStatus,
		NextPaymentRef: app.NextRef,
		Replayed:       true,
	}, true, nil
}

func expirable(t models.Ticket, now time.Time) bool {
	return models.CanTransition(t.Status, models.StatusExpired) && t.ValidUntil.Before(now)
}

// checkTransition guards every write against the transition table. A failed
// payment below the limit keeps the status and only rotates the reference.
func checkTransition(ticketID string, from, to models.Status) error {
	if from == to && from == models.StatusPendingPayment {
		return nil
	}
	if !models.CanTransition(from, to) {
		return domain.NewTicketError(domain.KindInvalidTransition, ticketID, fmt.Sprintf("cannot move ticket from %s to %s", from, to))
	}
	return nil
}

func (s TicketService) get(ctx context.Context, ticketID string) (models.Ticket, error) {
	t, err := s.Store.Get(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, s.storeErr(ticketID, err)
	}
	return t, nil
}

func (s TicketService) storeErr(ticketID string, err error) error {
	if domain.IsNotFound(err) {
		return domain.TicketError{Kind: domain.KindTicketNotFound, TicketID: ticketID, Msg: "ticket not found", Err: err}
	}
	return fmt.Errorf("ticket store: %w", err)
}

func (s TicketService) recordTransition(t models.Ticket, from models.Status, at time.Time) {
	metrics.Transitions.WithLabelValues(string(from), string(t.Status)).Inc()
	s.emit(t, from, at)
}

func (s TicketService) emit(t models.Ticket, from models.Status, at time.Time) {
	if s.Events == nil {
		return
	}
	s.Events.Emit(models.LifecycleEvent{
		TicketID:    t.ID,
		PassengerID: t.PassengerID,
		TripID:      t.TripID,
		FromStatus:  from,
		ToStatus:    t.Status,
		Timestamp:   at,
	})
}

// Now is the engine's clock reading.
func (s TicketService) Now() time.Time {
	return s.now()
}

func (s TicketService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return domain.SystemClock()
}

func (s TicketService) casAttempts() int {
	if s.MaxCASAttempts > 0 {
		return s.MaxCASAttempts
	}
	return DefaultMaxCASAttempts
}

func (s TicketService) paymentFailureLimit() int {
	if s.MaxPaymentFailures > 0 {
		return s.MaxPaymentFailures
	}
	return DefaultMaxPaymentFailures
}

func (s TicketService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracing.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s TicketService) end(span trace.Span, op string, begin time.Time, err error) {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(begin).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func newPaymentRef() string {
	return "pay_" + uuid.NewString()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k, ok := domain.KindOf(err); ok {
		return strings.ToLower(string(k))
	}
	return "error"
}

func validationLabel(res ValidationResult, err error) string {
	if err == nil {
		if res.Replayed {
			return "replayed"
		}
		return "validated"
	}
	return resultLabel(err)
}
