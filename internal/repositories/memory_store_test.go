package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
)

func newStoredTicket(id string, status models.Status, validUntil time.Time) models.Ticket {
	return models.Ticket{
		ID:          id,
		PassengerID: "P1",
		TripID:      "T1",
		TicketType:  models.TicketSingle,
		Amount:      decimal.RequireFromString("25.00"),
		Currency:    "NAD",
		Status:      status,
		ValidFrom:   validUntil.Add(-2 * time.Hour),
		ValidUntil:  validUntil,
		Version:     1,
		CreatedAt:   validUntil.Add(-3 * time.Hour),
	}
}

func TestMemoryStoreUpdateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTicketStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tk := newStoredTicket("tkt-1", models.StatusPendingPayment, now)
	if err := s.Insert(ctx, tk); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, tk); !errors.Is(err, domain.ErrDuplicateTicket) {
		t.Fatalf("expected ErrDuplicateTicket, got %v", err)
	}

	next := tk
	next.Status = models.StatusPaid
	if err := s.Update(ctx, next, 1, nil); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := s.Update(ctx, next, 1, nil); !errors.Is(err, domain.ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion on reused version, got %v", err)
	}

	got, err := s.Get(ctx, "tkt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 || got.Status != models.StatusPaid {
		t.Fatalf("unexpected stored ticket: version=%d status=%s", got.Version, got.Status)
	}
}

func TestMemoryStoreRejectsImmutableFieldChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTicketStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tk := newStoredTicket("tkt-2", models.StatusPaid, now)
	_ = s.Insert(ctx, tk)

	repriced := tk
	repriced.Amount = decimal.RequireFromString("30.00")
	if err := s.Update(ctx, repriced, 1, nil); !domain.IsInternal(err) {
		t.Fatalf("expected internal error for repricing, got %v", err)
	}

	extended := tk
	extended.ValidUntil = now.Add(time.Hour)
	if err := s.Update(ctx, extended, 1, nil); !domain.IsInternal(err) {
		t.Fatalf("expected internal error for window change, got %v", err)
	}

	at := now.Add(-time.Hour)
	validated := tk
	validated.Status = models.StatusValidated
	validated.ValidatedAt = &at
	if err := s.Update(ctx, validated, 1, nil); err != nil {
		t.Fatalf("validate update: %v", err)
	}
	later := now.Add(-time.Minute)
	rewrite := validated
	rewrite.ValidatedAt = &later
	if err := s.Update(ctx, rewrite, 2, nil); !domain.IsInternal(err) {
		t.Fatalf("expected write-once violation, got %v", err)
	}
}

func TestMemoryStorePaymentApplicationUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTicketStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tk := newStoredTicket("tkt-3", models.StatusPendingPayment, now)
	_ = s.Insert(ctx, tk)

	app := &models.PaymentApplication{PaymentRef: "pay-1", TicketID: "tkt-3", Outcome: models.PaymentSucceeded, ResultStatus: models.StatusPaid}
	next := tk
	next.Status = models.StatusPaid
	if err := s.Update(ctx, next, 1, app); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Update(ctx, next, 2, app); !errors.Is(err, domain.ErrDuplicatePaymentRef) {
		t.Fatalf("expected ErrDuplicatePaymentRef, got %v", err)
	}
	got, _ := s.Get(ctx, "tkt-3")
	if got.Version != 2 {
		t.Fatalf("duplicate payment must not bump version, got %d", got.Version)
	}
	stored, ok, _ := s.GetPaymentApplication(ctx, "pay-1")
	if !ok || stored.ResultStatus != models.StatusPaid {
		t.Fatalf("payment application not stored: %+v ok=%v", stored, ok)
	}
}

func TestMemoryStoreListExpirable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTicketStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = s.Insert(ctx, newStoredTicket("a", models.StatusPendingPayment, now.Add(-2*time.Hour)))
	_ = s.Insert(ctx, newStoredTicket("b", models.StatusPaid, now.Add(-time.Hour)))
	_ = s.Insert(ctx, newStoredTicket("c", models.StatusValidated, now.Add(-time.Hour)))
	_ = s.Insert(ctx, newStoredTicket("d", models.StatusPaid, now.Add(time.Hour)))
	_ = s.Insert(ctx, newStoredTicket("e", models.StatusPaid, now))

	got, err := s.ListExpirable(ctx, now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected expirable set: %+v", got)
	}

	limited, _ := s.ListExpirable(ctx, now, 1)
	if len(limited) != 1 || limited[0].ID != "a" {
		t.Fatalf("limit not applied: %+v", limited)
	}

	counts, _ := s.CountByStatus(ctx)
	if counts[models.StatusPaid] != 3 || counts[models.StatusValidated] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
