package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	intconfig "ticketing/internal/config"
	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
)

// TripRepository reads fares straight from the transport service's trips
// table when it shares a database with ticketing. Read-only.
type TripRepository struct {
	DB *sql.DB
}

func (r TripRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

func (r TripRepository) GetTripFare(ctx context.Context, tripID string) (models.TripFare, error) {
	db := r.db()
	if db == nil {
		return models.TripFare{}, domain.TicketError{Kind: domain.KindCatalogUnavailable, Msg: "trip catalog database not connected"}
	}

	var (
		f        models.TripFare
		status   string
		routeID  sql.NullString
		currency sql.NullString
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, route_id, fare, currency, departure_time, status
		FROM trips
		WHERE id=? LIMIT 1`, tripID).Scan(
		&f.TripID, &routeID, &f.Fare, &currency, &f.DepartureTime, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TripFare{}, domain.TicketError{Kind: domain.KindTripNotFound, Msg: "trip " + tripID + " not found"}
	}
	if err != nil {
		return models.TripFare{}, domain.TicketError{Kind: domain.KindCatalogUnavailable, Msg: "trip lookup failed", Err: err}
	}
	f.RouteID = routeID.String
	f.Currency = strings.TrimSpace(currency.String)
	f.Status = models.TripStatus(strings.ToUpper(strings.TrimSpace(status)))
	return f, nil
}

// PassengerRepository answers whether a passenger account exists.
type PassengerRepository struct {
	DB *sql.DB
}

func (r PassengerRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

func (r PassengerRepository) PassengerExists(ctx context.Context, passengerID string) (bool, error) {
	db := r.db()
	if db == nil {
		return false, domain.InternalError{Msg: "database not connected"}
	}
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=? AND UPPER(role)='PASSENGER' LIMIT 1`, passengerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
