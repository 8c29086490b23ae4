package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
)

// Static is an in-process catalog for local runs and tests.
type Static struct {
	mu    sync.RWMutex
	trips map[string]models.TripFare
}

func NewStatic(trips ...models.TripFare) *Static {
	s := &Static{trips: map[string]models.TripFare{}}
	for _, t := range trips {
		s.trips[t.TripID] = t
	}
	return s
}

// Put adds or replaces a trip.
func (s *Static) Put(t models.TripFare) {
	s.mu.Lock()
	s.trips[t.TripID] = t
	s.mu.Unlock()
}

func (s *Static) GetTripFare(_ context.Context, tripID string) (models.TripFare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trips[tripID]
	if !ok {
		return models.TripFare{}, domain.TicketError{Kind: domain.KindTripNotFound, Msg: "trip " + tripID + " not found"}
	}
	return t, nil
}

type staticFile struct {
	Trips []struct {
		ID            string    `yaml:"id"`
		RouteID       string    `yaml:"route_id"`
		Fare          string    `yaml:"fare"`
		Currency      string    `yaml:"currency"`
		DepartureTime time.Time `yaml:"departure_time"`
		Status        string    `yaml:"status"`
	} `yaml:"trips"`
}

// LoadStatic reads a YAML trip list for the static catalog:
//
//	trips:
//	  - {id: T1, route_id: B101, fare: "25.00", currency: NAD, departure_time: 2026-05-01T14:00:00Z, status: SCHEDULED}
func LoadStatic(path string) (*Static, error) {
	s := NewStatic()
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trip catalog: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse trip catalog: %w", err)
	}
	for _, t := range f.Trips {
		fare, err := decimal.NewFromString(t.Fare)
		if err != nil {
			return nil, fmt.Errorf("trip %s: invalid fare %q: %w", t.ID, t.Fare, err)
		}
		status := models.TripStatus(strings.ToUpper(strings.TrimSpace(t.Status)))
		if status == "" {
			status = models.TripScheduled
		}
		s.Put(models.TripFare{
			TripID:        t.ID,
			RouteID:       t.RouteID,
			Fare:          fare,
			Currency:      t.Currency,
			DepartureTime: t.DepartureTime.UTC(),
			Status:        status,
		})
	}
	return s, nil
}
