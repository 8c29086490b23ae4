package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"ticketing/internal/catalog"
	"ticketing/internal/config"
	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
	"ticketing/internal/passengers"
	"ticketing/internal/repositories"
)

var base = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (e *recordingEmitter) Emit(evt models.LifecycleEvent) {
	e.mu.Lock()
	e.events = append(e.events, evt)
	e.mu.Unlock()
}

func (e *recordingEmitter) count(to models.Status) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.ToStatus == to {
			n++
		}
	}
	return n
}

// countingStore counts committed updates per resulting status.
type countingStore struct {
	*repositories.MemoryTicketStore
	mu      sync.Mutex
	commits map[models.Status]int
	failAll bool
}

func (s *countingStore) Update(ctx context.Context, next models.Ticket, expectedVersion int64, app *models.PaymentApplication) error {
	if s.failAll {
		return domain.ErrStaleVersion
	}
	err := s.MemoryTicketStore.Update(ctx, next, expectedVersion, app)
	if err == nil {
		s.mu.Lock()
		s.commits[next.Status]++
		s.mu.Unlock()
	}
	return err
}

type fixture struct {
	svc    TicketService
	store  *countingStore
	events *recordingEmitter
	trips  *catalog.Static
	now    *time.Time
}

func newFixture() *fixture {
	now := base
	f := &fixture{
		store:  &countingStore{MemoryTicketStore: repositories.NewMemoryTicketStore(), commits: map[models.Status]int{}},
		events: &recordingEmitter{},
		trips: catalog.NewStatic(
			models.TripFare{TripID: "T1", RouteID: "B101", Fare: decimal.RequireFromString("25.00"), Currency: "NAD", DepartureTime: base.Add(4 * time.Hour), Status: models.TripScheduled},
			models.TripFare{TripID: "T2", RouteID: "B102", Fare: decimal.RequireFromString("18.50"), Currency: "NAD", DepartureTime: base.Add(5 * time.Hour), Status: models.TripScheduled},
			models.TripFare{TripID: "T-gone", Fare: decimal.RequireFromString("10"), DepartureTime: base.Add(-time.Hour), Status: models.TripDeparted},
			models.TripFare{TripID: "T-cancel", Fare: decimal.RequireFromString("10"), DepartureTime: base.Add(time.Hour), Status: models.TripCancelled},
		),
		now: &now,
	}
	f.svc = TicketService{
		Store:      f.store,
		Catalog:    f.trips,
		Passengers: passengers.NewStatic("P1"),
		Policy:     config.DefaultTicketPolicy(),
		Events:     f.events,
		Clock:      func() time.Time { return *f.now },
	}
	return f
}

func (f *fixture) issue(t *testing.T, tripID string) IssueTicketResult {
	t.Helper()
	res, err := f.svc.IssueTicket(context.Background(), IssueTicketInput{PassengerID: "P1", TripID: tripID, TicketType: models.TicketSingle})
	if err != nil {
		t.Fatalf("IssueTicket(%s) error: %v", tripID, err)
	}
	return res
}

func (f *fixture) issuePaid(t *testing.T, tripID string) IssueTicketResult {
	t.Helper()
	res := f.issue(t, tripID)
	if _, err := f.svc.ConfirmPayment(context.Background(), res.TicketID, res.PaymentRef, models.PaymentSucceeded); err != nil {
		t.Fatalf("ConfirmPayment error: %v", err)
	}
	return res
}

func TestTicketLifecycleScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	issued := f.issue(t, "T1")
	if issued.Status != models.StatusPendingPayment || issued.Amount.StringFixed(2) != "25.00" {
		t.Fatalf("unexpected issue result: %+v", issued)
	}
	if !issued.ValidFrom.Equal(base) || !issued.ValidUntil.Equal(base.Add(6*time.Hour)) {
		t.Fatalf("window should be [now, departure+2h], got [%s, %s]", issued.ValidFrom, issued.ValidUntil)
	}
	if len(issued.PaymentRef) < 5 || issued.PaymentRef[:4] != "pay_" {
		t.Fatalf("expected pay_ reference, got %q", issued.PaymentRef)
	}

	paid, err := f.svc.ConfirmPayment(ctx, issued.TicketID, issued.PaymentRef, models.PaymentSucceeded)
	if err != nil || paid.Status != models.StatusPaid {
		t.Fatalf("expected PAID, got %+v err=%v", paid, err)
	}

	*f.now = base.Add(3 * time.Hour)
	first, err := f.svc.ValidateTicket(ctx, issued.TicketID, "T1", time.Time{})
	if err != nil {
		t.Fatalf("first validation failed: %v", err)
	}
	if !first.ValidatedAt.Equal(*f.now) || first.Replayed {
		t.Fatalf("unexpected first validation: %+v", first)
	}

	*f.now = base.Add(3*time.Hour + 30*time.Second)
	again, err := f.svc.ValidateTicket(ctx, issued.TicketID, "T1", time.Time{})
	if err != nil {
		t.Fatalf("re-scan on same trip should succeed, got %v", err)
	}
	if !again.ValidatedAt.Equal(first.ValidatedAt) || !again.Replayed {
		t.Fatalf("re-scan must replay validatedAt %s, got %+v", first.ValidatedAt, again)
	}

	if _, err := f.svc.ValidateTicket(ctx, issued.TicketID, "T2", time.Time{}); !domain.IsKind(err, domain.KindAlreadyUsed) {
		t.Fatalf("expected AlreadyUsed on T2, got %v", err)
	}

	tk, err := f.svc.GetTicket(ctx, issued.TicketID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if tk.Status != models.StatusValidated || tk.ValidatedTripID != "T1" || tk.ValidatedAt == nil || !tk.ValidatedAt.Equal(first.ValidatedAt) {
		t.Fatalf("unexpected stored ticket: %+v", tk)
	}
	if f.events.count(models.StatusPaid) != 1 || f.events.count(models.StatusValidated) != 1 {
		t.Fatalf("expected one PAID and one VALIDATED event, got %+v", f.events.events)
	}
}

func TestIssueTicketRejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []struct {
		name string
		in   IssueTicketInput
		kind domain.Kind
	}{
		{"unknown trip", IssueTicketInput{PassengerID: "P1", TripID: "T404"}, domain.KindTripNotFound},
		{"departed trip", IssueTicketInput{PassengerID: "P1", TripID: "T-gone"}, domain.KindTripClosed},
		{"cancelled trip", IssueTicketInput{PassengerID: "P1", TripID: "T-cancel"}, domain.KindTripClosed},
	}
	for _, tc := range cases {
		if _, err := f.svc.IssueTicket(ctx, tc.in); !domain.IsKind(err, tc.kind) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.kind, err)
		}
	}

	if _, err := f.svc.IssueTicket(ctx, IssueTicketInput{PassengerID: "P1", TripID: "T1", TicketType: "MONTHLY"}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	if _, err := f.svc.IssueTicket(ctx, IssueTicketInput{TripID: "T1"}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for missing passenger, got %v", err)
	}

	// Sale closes at departure.
	*f.now = base.Add(4 * time.Hour)
	if _, err := f.svc.IssueTicket(ctx, IssueTicketInput{PassengerID: "P1", TripID: "T1"}); !domain.IsKind(err, domain.KindTripClosed) {
		t.Fatalf("expected TripClosed at departure time, got %v", err)
	}

	stats, _ := f.svc.TicketStats(ctx)
	if stats.Total != 0 {
		t.Fatalf("rejected issuance must not create tickets, got %d", stats.Total)
	}
}

type failingCatalog struct{ err error }

func (c failingCatalog) GetTripFare(context.Context, string) (models.TripFare, error) {
	return models.TripFare{}, c.err
}

type failingDirectory struct{ err error }

func (d failingDirectory) PassengerExists(context.Context, string) (bool, error) {
	return false, d.err
}

func TestIssueTicketCollaboratorFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	svc := f.svc
	svc.Catalog = failingCatalog{err: errors.New("connection refused")}
	_, err := svc.IssueTicket(ctx, IssueTicketInput{PassengerID: "P1", TripID: "T1"})
	if !domain.IsKind(err, domain.KindCatalogUnavailable) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable CatalogUnavailable, got %v", err)
	}

	svc = f.svc
	if _, err := svc.IssueTicket(ctx, IssueTicketInput{PassengerID: "no-such-passenger", TripID: "T1"}); !domain.IsKind(err, domain.KindPassengerNotFound) {
		t.Fatalf("expected PassengerNotFound, got %v", err)
	}
	if _, err := svc.IssueTicket(ctx, IssueTicketInput{PassengerID: "P1", TripID: "T1", TicketType: "flexi"}); err != nil {
		t.Fatalf("expected FLEXI issuance to succeed, got %v", err)
	}

	svc.Passengers = failingDirectory{err: errors.New("connection refused")}
	_, err = svc.IssueTicket(ctx, IssueTicketInput{PassengerID: "P1", TripID: "T1"})
	if !domain.IsKind(err, domain.KindPassengerDirectoryUnavailable) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable PassengerDirectoryUnavailable, got %v", err)
	}
}

func TestIssueTicketWithoutPassengerDirectoryFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.svc.Passengers = nil

	if _, err := f.svc.IssueTicket(ctx, IssueTicketInput{PassengerID: "no-such-passenger", TripID: "T1"}); !domain.IsInternal(err) {
		t.Fatalf("expected internal error without a passenger directory, got %v", err)
	}
	stats, _ := f.svc.TicketStats(ctx)
	if stats.Total != 0 {
		t.Fatalf("no ticket may be issued without a passenger check, got %d", stats.Total)
	}
}

func TestConfirmPaymentIdempotentByReference(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	issued := f.issue(t, "T1")

	first, err := f.svc.ConfirmPayment(ctx, issued.TicketID, issued.PaymentRef, models.PaymentSucceeded)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	before, _ := f.svc.GetTicket(ctx, issued.TicketID)

	second, err := f.svc.ConfirmPayment(ctx, issued.TicketID, issued.PaymentRef, models.PaymentSucceeded)
	if err != nil {
		t.Fatalf("duplicate confirm should replay, got %v", err)
	}
	after, _ := f.svc.GetTicket(ctx, issued.TicketID)

	if first.Status != second.Status || !second.Replayed {
		t.Fatalf("replay mismatch: %+v vs %+v", first, second)
	}
	if before.Version != after.Version || after.Status != models.StatusPaid {
		t.Fatalf("duplicate confirm mutated the ticket: %+v -> %+v", before, after)
	}
	if f.store.commits[models.StatusPaid] != 1 {
		t.Fatalf("expected exactly one PAID write, got %d", f.store.commits[models.StatusPaid])
	}

	// A new reference against a paid ticket is not double-applied.
	if _, err := f.svc.ConfirmPayment(ctx, issued.TicketID, "pay_other", models.PaymentSucceeded); !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}

	other := f.issue(t, "T2")
	if _, err := f.svc.ConfirmPayment(ctx, other.TicketID, issued.PaymentRef, models.PaymentSucceeded); !domain.IsValidation(err) {
		t.Fatalf("reference of another ticket should be rejected, got %v", err)
	}
	if _, err := f.svc.ConfirmPayment(ctx, "missing", "pay_x", models.PaymentSucceeded); !domain.IsKind(err, domain.KindTicketNotFound) {
		t.Fatalf("expected TicketNotFound, got %v", err)
	}
	if _, err := f.svc.ConfirmPayment(ctx, other.TicketID, other.PaymentRef, "pending"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown outcome, got %v", err)
	}
}

func TestPaymentFailuresRotateThenCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	issued := f.issue(t, "T1")

	ref := issued.PaymentRef
	seen := map[string]bool{ref: true}
	for i := 1; i <= 2; i++ {
		res, err := f.svc.ConfirmPayment(ctx, issued.TicketID, ref, models.PaymentFailed)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if res.Status != models.StatusPendingPayment || res.NextPaymentRef == "" || seen[res.NextPaymentRef] {
			t.Fatalf("failure %d should rotate the intent, got %+v", i, res)
		}
		ref = res.NextPaymentRef
		seen[ref] = true
	}

	// A superseded reference replays its recorded outcome.
	replay, err := f.svc.ConfirmPayment(ctx, issued.TicketID, issued.PaymentRef, models.PaymentSucceeded)
	if err != nil || !replay.Replayed || replay.Status != models.StatusPendingPayment {
		t.Fatalf("expected replay of first failure, got %+v err=%v", replay, err)
	}
	if _, err := f.svc.ConfirmPayment(ctx, issued.TicketID, "pay_unknown", models.PaymentSucceeded); !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Fatalf("a reference that is not the active intent must be rejected, got %v", err)
	}

	res, err := f.svc.ConfirmPayment(ctx, issued.TicketID, ref, models.PaymentFailed)
	if err != nil || res.Status != models.StatusCancelled || res.NextPaymentRef != "" {
		t.Fatalf("third failure should cancel, got %+v err=%v", res, err)
	}

	tk, _ := f.svc.GetTicket(ctx, issued.TicketID)
	if tk.PaymentFailures != 3 || tk.PaymentRef != "" {
		t.Fatalf("unexpected cancelled ticket: %+v", tk)
	}
	if _, err := f.svc.ValidateTicket(ctx, issued.TicketID, "T1", time.Time{}); !domain.IsKind(err, domain.KindNotPayable) {
		t.Fatalf("expected NotPayable after cancellation, got %v", err)
	}
	if f.events.count(models.StatusCancelled) != 1 {
		t.Fatalf("expected one CANCELLED event")
	}
}

func TestValidateTicketWindowBoundary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	inside := f.issuePaid(t, "T1")
	validUntil := inside.ValidUntil
	if _, err := f.svc.ValidateTicket(ctx, inside.TicketID, "T1", validUntil.Add(-time.Second)); err != nil {
		t.Fatalf("validation at validUntil-1s should succeed, got %v", err)
	}

	edge := f.issuePaid(t, "T1")
	if _, err := f.svc.ValidateTicket(ctx, edge.TicketID, "T1", validUntil); err != nil {
		t.Fatalf("validUntil is inclusive, got %v", err)
	}

	late := f.issuePaid(t, "T1")
	if _, err := f.svc.ValidateTicket(ctx, late.TicketID, "T1", validUntil.Add(time.Second)); !domain.IsKind(err, domain.KindExpired) {
		t.Fatalf("validation at validUntil+1s should fail Expired, got %v", err)
	}
	tk, _ := f.svc.GetTicket(ctx, late.TicketID)
	if tk.Status != models.StatusExpired || tk.ValidatedAt != nil {
		t.Fatalf("late scan should expire the ticket, got %+v", tk)
	}
	if _, err := f.svc.ValidateTicket(ctx, late.TicketID, "T1", validUntil.Add(-time.Hour)); !domain.IsKind(err, domain.KindExpired) {
		t.Fatalf("expired ticket stays expired, got %v", err)
	}

	early := f.issuePaid(t, "T1")
	if _, err := f.svc.ValidateTicket(ctx, early.TicketID, "T1", early.ValidFrom.Add(-time.Second)); !domain.IsKind(err, domain.KindExpired) {
		t.Fatalf("validation before validFrom should fail Expired, got %v", err)
	}
	tk, _ = f.svc.GetTicket(ctx, early.TicketID)
	if tk.Status != models.StatusPaid {
		t.Fatalf("early scan must not mutate the ticket, got %s", tk.Status)
	}

	unpaid := f.issue(t, "T1")
	if _, err := f.svc.ValidateTicket(ctx, unpaid.TicketID, "T1", time.Time{}); !domain.IsKind(err, domain.KindNotPayable) {
		t.Fatalf("expected NotPayable for unpaid ticket, got %v", err)
	}
	if _, err := f.svc.ValidateTicket(ctx, "missing", "T1", time.Time{}); !domain.IsKind(err, domain.KindTicketNotFound) {
		t.Fatalf("expected TicketNotFound, got %v", err)
	}
}

func TestConcurrentValidationTransitionsOnce(t *testing.T) {
	f := newFixture()
	issued := f.issuePaid(t, "T1")
	*f.now = base.Add(time.Hour)

	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fresh    int
		stamps   = map[time.Time]int{}
		failures []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Hour + time.Duration(i)*time.Millisecond)
			res, err := f.svc.ValidateTicket(context.Background(), issued.TicketID, "T1", at)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if !res.Replayed {
				fresh++
			}
			stamps[res.ValidatedAt]++
		}(i)
	}
	wg.Wait()

	if len(failures) != 0 {
		t.Fatalf("same-trip validations should all succeed, got %v", failures)
	}
	if fresh != 1 || len(stamps) != 1 {
		t.Fatalf("expected one transition and one validatedAt, got fresh=%d stamps=%v", fresh, stamps)
	}
	if f.store.commits[models.StatusValidated] != 1 || f.events.count(models.StatusValidated) != 1 {
		t.Fatalf("expected exactly one VALIDATED write and event, got writes=%d", f.store.commits[models.StatusValidated])
	}
}

func TestConcurrentValidationOnDifferentTrips(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture()
		issued := f.issuePaid(t, "T1")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, trip := range []string{"T1", "T2"} {
			wg.Add(1)
			go func(i int, trip string) {
				defer wg.Done()
				_, errs[i] = f.svc.ValidateTicket(context.Background(), issued.TicketID, trip, base.Add(time.Hour))
			}(i, trip)
		}
		wg.Wait()

		ok, used := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case domain.IsKind(err, domain.KindAlreadyUsed):
				used++
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if ok != 1 || used != 1 {
			t.Fatalf("round %d: expected one success and one AlreadyUsed, got ok=%d used=%d", round, ok, used)
		}
	}
}

func TestConcurrentPaymentConfirmationAppliesOnce(t *testing.T) {
	f := newFixture()
	issued := f.issue(t, "T1")

	const n = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ConfirmPayment(context.Background(), issued.TicketID, issued.PaymentRef, models.PaymentSucceeded)
			if err != nil {
				t.Errorf("confirm: %v", err)
				return
			}
			if res.Status != models.StatusPaid {
				t.Errorf("expected PAID, got %s", res.Status)
			}
			if !res.Replayed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 || f.store.commits[models.StatusPaid] != 1 {
		t.Fatalf("expected one applied confirmation, got fresh=%d writes=%d", fresh, f.store.commits[models.StatusPaid])
	}
}

func TestCASExhaustionReturnsConflict(t *testing.T) {
	f := newFixture()
	issued := f.issuePaid(t, "T1")
	f.store.failAll = true
	f.svc.MaxCASAttempts = 3

	_, err := f.svc.ValidateTicket(context.Background(), issued.TicketID, "T1", base.Add(time.Hour))
	if !domain.IsKind(err, domain.KindConflict) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable Conflict, got %v", err)
	}
	if kind, _ := domain.KindOf(err); kind.Class() != domain.ClassStateConflict {
		t.Fatalf("Conflict should be a state conflict, got %s", kind.Class())
	}
}

func TestSweepExpiresStaleTickets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.svc.SweepBatch = 2

	unpaid := f.issue(t, "T1")
	paid := f.issuePaid(t, "T1")
	used := f.issuePaid(t, "T1")
	if _, err := f.svc.ValidateTicket(ctx, used.TicketID, "T1", base.Add(time.Hour)); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for i := 0; i < 3; i++ {
		f.issue(t, "T1")
	}
	later := f.issue(t, "T2")

	// T1 tickets lapse at base+6h, T2 at base+7h.
	*f.now = base.Add(6*time.Hour + time.Minute)
	n, err := f.svc.SweepExpired(ctx, time.Time{})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 expired tickets, got %d", n)
	}

	for id, want := range map[string]models.Status{
		unpaid.TicketID: models.StatusExpired,
		paid.TicketID:   models.StatusExpired,
		used.TicketID:   models.StatusValidated,
		later.TicketID:  models.StatusPendingPayment,
	} {
		tk, _ := f.svc.GetTicket(ctx, id)
		if tk.Status != want {
			t.Fatalf("ticket %s: expected %s, got %s", id, want, tk.Status)
		}
	}

	again, err := f.svc.SweepExpired(ctx, time.Time{})
	if err != nil || again != 0 {
		t.Fatalf("second sweep should be a no-op, got %d err=%v", again, err)
	}
	if _, err := f.svc.ConfirmPayment(ctx, unpaid.TicketID, unpaid.PaymentRef, models.PaymentSucceeded); !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Fatalf("payment on an expired ticket must fail InvalidTransition, got %v", err)
	}

	stats, err := f.svc.TicketStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 7 || stats.ByStatus[models.StatusExpired] != 5 || stats.ByStatus[models.StatusValidated] != 1 || stats.ByStatus[models.StatusCancelled] != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestListTickets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.issue(t, "T1")
	f.issue(t, "T2")

	byPassenger, err := f.svc.ListPassengerTickets(ctx, "P1")
	if err != nil || len(byPassenger) != 2 {
		t.Fatalf("expected 2 passenger tickets, got %d err=%v", len(byPassenger), err)
	}
	byTrip, err := f.svc.ListTripTickets(ctx, "T2")
	if err != nil || len(byTrip) != 1 || byTrip[0].TripID != "T2" {
		t.Fatalf("unexpected trip tickets: %+v err=%v", byTrip, err)
	}
	if _, err := f.svc.ListTripTickets(ctx, " "); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty trip id, got %v", err)
	}
}

func TestIssueTicketAgainstMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT 1 FROM users").WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("FROM trips").WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "route_id", "fare", "currency", "departure_time", "status"}).
			AddRow("T1", "B101", "25.00", "NAD", base.Add(4*time.Hour), "scheduled"))
	mock.ExpectExec("INSERT INTO tickets").
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc := TicketService{
		Store:      repositories.TicketRepository{DB: db},
		Catalog:    repositories.TripRepository{DB: db},
		Passengers: repositories.PassengerRepository{DB: db},
		Policy:     config.DefaultTicketPolicy(),
		Clock:      func() time.Time { return base },
	}
	res, err := svc.IssueTicket(context.Background(), IssueTicketInput{PassengerID: "P1", TripID: "T1"})
	if err != nil {
		t.Fatalf("IssueTicket returned error: %v", err)
	}
	if res.Amount.StringFixed(2) != "25.00" || !res.ValidUntil.Equal(base.Add(6*time.Hour)) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEngineRefusesWritesOutsideTransitionTable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	odd := models.Ticket{
		ID:          "tkt-odd",
		PassengerID: "P1",
		TripID:      "T1",
		TicketType:  models.TicketSingle,
		Amount:      decimal.RequireFromString("25.00"),
		Status:      models.Status("REFUNDED"),
		ValidFrom:   base,
		ValidUntil:  base.Add(6 * time.Hour),
		Version:     1,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
	if err := f.store.Insert(ctx, odd); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := f.svc.ValidateTicket(ctx, odd.ID, "T1", base.Add(time.Hour)); !domain.IsKind(err, domain.KindInvalidTransition) {
		t.Fatalf("expected InvalidTransition inside the window, got %v", err)
	}
	if _, err := f.svc.ValidateTicket(ctx, odd.ID, "T1", base.Add(7*time.Hour)); !domain.IsKind(err, domain.KindExpired) {
		t.Fatalf("expected Expired after the window, got %v", err)
	}
	if n, err := f.svc.SweepExpired(ctx, base.Add(7*time.Hour)); err != nil || n != 0 {
		t.Fatalf("sweep must skip statuses outside the table, got n=%d err=%v", n, err)
	}

	got, _ := f.svc.GetTicket(ctx, odd.ID)
	if got.Status != odd.Status || got.Version != 1 || len(f.store.commits) != 0 {
		t.Fatalf("ticket must be untouched, got %+v commits=%v", got, f.store.commits)
	}
}
