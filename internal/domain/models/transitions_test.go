package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPayment, StatusPaid, true},
		{StatusPaid, StatusValidated, true},
		{StatusPendingPayment, StatusValidated, false},
		{StatusPendingPayment, StatusExpired, true},
		{StatusPaid, StatusCancelled, true},
		{StatusValidated, StatusExpired, false},
		{StatusCancelled, StatusPaid, false},
		{StatusExpired, StatusPaid, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTicketInWindowInclusive(t *testing.T) {
	from := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	until := from.Add(2 * time.Hour)
	tk := Ticket{ValidFrom: from, ValidUntil: until}

	if !tk.InWindow(from) || !tk.InWindow(until) {
		t.Fatalf("window bounds should be inclusive")
	}
	if tk.InWindow(until.Add(time.Second)) {
		t.Fatalf("after validUntil should be outside window")
	}
	if tk.InWindow(from.Add(-time.Second)) {
		t.Fatalf("before validFrom should be outside window")
	}
}

func TestTripOpenForSale(t *testing.T) {
	dep := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f := TripFare{DepartureTime: dep, Status: TripScheduled}
	if !f.OpenForSale(dep.Add(-time.Minute)) {
		t.Fatalf("scheduled trip before departure should be open")
	}
	if f.OpenForSale(dep) {
		t.Fatalf("trip at departure time should be closed")
	}
	f.Status = TripCancelled
	if f.OpenForSale(dep.Add(-time.Hour)) {
		t.Fatalf("cancelled trip should be closed")
	}
}
