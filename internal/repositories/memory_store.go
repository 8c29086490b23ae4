package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
)

// MemoryTicketStore is a process-local Ticket Store. The mutex only guards
// the maps; callers still get compare-and-swap semantics from Update.
type MemoryTicketStore struct {
	mu       sync.RWMutex
	tickets  map[string]models.Ticket
	payments map[string]models.PaymentApplication
}

func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{
		tickets:  map[string]models.Ticket{},
		payments: map[string]models.PaymentApplication{},
	}
}

func (s *MemoryTicketStore) Insert(_ context.Context, t models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[t.ID]; ok {
		return domain.ErrDuplicateTicket
	}
	s.tickets[t.ID] = cloneTicket(t)
	return nil
}

func (s *MemoryTicketStore) Get(_ context.Context, id string) (models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return models.Ticket{}, domain.NotFoundError{Resource: "ticket"}
	}
	return cloneTicket(t), nil
}

func (s *MemoryTicketStore) Update(_ context.Context, next models.Ticket, expectedVersion int64, app *models.PaymentApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tickets[next.ID]
	if !ok {
		return domain.NotFoundError{Resource: "ticket"}
	}
	if cur.Version != expectedVersion {
		return domain.ErrStaleVersion
	}
	if err := checkImmutable(cur, next); err != nil {
		return err
	}
	if app != nil {
		if _, dup := s.payments[app.PaymentRef]; dup {
			return domain.ErrDuplicatePaymentRef
		}
		s.payments[app.PaymentRef] = *app
	}

	next.Version = expectedVersion + 1
	s.tickets[next.ID] = cloneTicket(next)
	return nil
}

func (s *MemoryTicketStore) GetPaymentApplication(_ context.Context, ref string) (models.PaymentApplication, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.payments[ref]
	return app, ok, nil
}

func (s *MemoryTicketStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]models.Ticket, error) {
	s.mu.RLock()
	out := []models.Ticket{}
	for _, t := range s.tickets {
		if (t.Status == models.StatusPendingPayment || t.Status == models.StatusPaid) && t.ValidUntil.Before(now) {
			out = append(out, cloneTicket(t))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ValidUntil.Equal(out[j].ValidUntil) {
			return out[i].ID < out[j].ID
		}
		return out[i].ValidUntil.Before(out[j].ValidUntil)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryTicketStore) ListByPassenger(_ context.Context, passengerID string) ([]models.Ticket, error) {
	return s.filter(func(t models.Ticket) bool { return t.PassengerID == passengerID }), nil
}

func (s *MemoryTicketStore) ListByTrip(_ context.Context, tripID string) ([]models.Ticket, error) {
	return s.filter(func(t models.Ticket) bool { return t.TripID == tripID }), nil
}

func (s *MemoryTicketStore) CountByStatus(_ context.Context) (map[models.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[models.Status]int64{}
	for _, t := range s.tickets {
		out[t.Status]++
	}
	return out, nil
}

func (s *MemoryTicketStore) Ping(context.Context) error { return nil }

func (s *MemoryTicketStore) filter(keep func(models.Ticket) bool) []models.Ticket {
	s.mu.RLock()
	out := []models.Ticket{}
	for _, t := range s.tickets {
		if keep(t) {
			out = append(out, cloneTicket(t))
		}
	}
	s.mu.RUnlock()

	sortByCreated(out)
	return out
}

func cloneTicket(t models.Ticket) models.Ticket {
	if t.ValidatedAt != nil {
		at := *t.ValidatedAt
		t.ValidatedAt = &at
	}
	return t
}

func sortByCreated(ts []models.Ticket) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}

// checkImmutable rejects writes that would change issuance-time fields or
// overwrite an existing validation.
func checkImmutable(cur, next models.Ticket) error {
	switch {
	case cur.PassengerID != next.PassengerID,
		cur.TripID != next.TripID,
		cur.TicketType != next.TicketType,
		!cur.Amount.Equal(next.Amount),
		cur.Currency != next.Currency,
		!cur.ValidFrom.Equal(next.ValidFrom),
		!cur.ValidUntil.Equal(next.ValidUntil):
		return domain.InternalError{Msg: "ticket " + cur.ID + ": issuance fields are immutable"}
	case cur.ValidatedAt != nil && (next.ValidatedAt == nil || !cur.ValidatedAt.Equal(*next.ValidatedAt)):
		return domain.InternalError{Msg: "ticket " + cur.ID + ": validatedAt is write-once"}
	}
	return nil
}
