package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	intconfig "ticketing/internal/config"
	intdb "ticketing/internal/db"
	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
)

const mysqlDuplicateEntry = 1062

const ticketColumns = `id, passenger_id, trip_id, ticket_type, amount, currency, status,
	valid_from, valid_until, validated_at, COALESCE(validated_trip_id,''), COALESCE(payment_ref,''),
	payment_failures, version, created_at, updated_at`

// TicketRepository is the MySQL Ticket Store. Every mutation is a
// conditional UPDATE on (id, version); no row locks are held across calls.
type TicketRepository struct {
	DB *sql.DB
}

func (r TicketRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

func (r TicketRepository) Insert(ctx context.Context, t models.Ticket) error {
	db := r.db()
	if db == nil {
		return domain.InternalError{Msg: "database not connected"}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO tickets (id, passenger_id, trip_id, ticket_type, amount, currency, status,
			valid_from, valid_until, payment_ref, payment_failures, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PassengerID, t.TripID, string(t.TicketType), t.Amount.StringFixed(2), t.Currency, string(t.Status),
		t.ValidFrom, t.ValidUntil, intdb.NullIfEmpty(t.PaymentRef), t.PaymentFailures, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return domain.ErrDuplicateTicket
	}
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r TicketRepository) Get(ctx context.Context, id string) (models.Ticket, error) {
	db := r.db()
	if db == nil {
		return models.Ticket{}, domain.InternalError{Msg: "database not connected"}
	}
	row := db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=? LIMIT 1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ticket{}, domain.NotFoundError{Resource: "ticket", Err: err}
	}
	if err != nil {
		return models.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// Update writes next only if the stored version still equals expectedVersion.
// When app is set the payment application is recorded in the same transaction.
func (r TicketRepository) Update(ctx context.Context, next models.Ticket, expectedVersion int64, app *models.PaymentApplication) (err error) {
	db := r.db()
	if db == nil {
		return domain.InternalError{Msg: "database not connected"}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var validatedAt any
	if next.ValidatedAt != nil {
		validatedAt = *next.ValidatedAt
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE tickets
		SET status=?, validated_at=COALESCE(validated_at, ?), validated_trip_id=?, payment_ref=?,
		    payment_failures=?, version=?, updated_at=?
		WHERE id=? AND version=?`,
		string(next.Status), validatedAt, intdb.NullIfEmpty(next.ValidatedTripID), intdb.NullIfEmpty(next.PaymentRef),
		next.PaymentFailures, expectedVersion+1, next.UpdatedAt,
		next.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if n == 0 {
		return domain.ErrStaleVersion
	}

	if app != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payment_applications (payment_ref, ticket_id, outcome, result_status, next_ref, applied_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			app.PaymentRef, app.TicketID, string(app.Outcome), string(app.ResultStatus), intdb.NullIfEmpty(app.NextRef), app.AppliedAt,
		)
		if isDuplicateEntry(err) {
			return domain.ErrDuplicatePaymentRef
		}
		if err != nil {
			return fmt.Errorf("insert payment application: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ticket update: %w", err)
	}
	return nil
}

func (r TicketRepository) GetPaymentApplication(ctx context.Context, ref string) (models.PaymentApplication, bool, error) {
	db := r.db()
	if db == nil {
		return models.PaymentApplication{}, false, domain.InternalError{Msg: "database not connected"}
	}
	var (
		app             models.PaymentApplication
		outcome, status string
	)
	err := db.QueryRowContext(ctx, `
		SELECT payment_ref, ticket_id, outcome, result_status, COALESCE(next_ref,''), applied_at
		FROM payment_applications
		WHERE payment_ref=? LIMIT 1`, ref).Scan(
		&app.PaymentRef, &app.TicketID, &outcome, &status, &app.NextRef, &app.AppliedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentApplication{}, false, nil
	}
	if err != nil {
		return models.PaymentApplication{}, false, fmt.Errorf("get payment application: %w", err)
	}
	app.Outcome = models.PaymentOutcome(outcome)
	app.ResultStatus = models.Status(status)
	return app, true, nil
}

func (r TicketRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.Ticket, error) {
	return r.list(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE status IN (?, ?) AND valid_until < ?
		ORDER BY valid_until ASC, id ASC
		LIMIT ?`,
		string(models.StatusPendingPayment), string(models.StatusPaid), now, limit,
	)
}

func (r TicketRepository) ListByPassenger(ctx context.Context, passengerID string) ([]models.Ticket, error) {
	return r.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE passenger_id=? ORDER BY created_at ASC, id ASC`, passengerID)
}

func (r TicketRepository) ListByTrip(ctx context.Context, tripID string) ([]models.Ticket, error) {
	return r.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE trip_id=? ORDER BY created_at ASC, id ASC`, tripID)
}

func (r TicketRepository) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	db := r.db()
	if db == nil {
		return nil, domain.InternalError{Msg: "database not connected"}
	}
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	out := map[models.Status]int64{}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan ticket count: %w", err)
		}
		out[models.Status(status)] = n
	}
	return out, rows.Err()
}

func (r TicketRepository) Ping(ctx context.Context) error {
	db := r.db()
	if db == nil {
		return domain.InternalError{Msg: "database not connected"}
	}
	return db.PingContext(ctx)
}

func (r TicketRepository) list(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	db := r.db()
	if db == nil {
		return nil, domain.InternalError{Msg: "database not connected"}
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	out := []models.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return out, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var (
		t                  models.Ticket
		ticketType, status string
		validatedAt        sql.NullTime
	)
	if err := row.Scan(
		&t.ID,
		&t.PassengerID,
		&t.TripID,
		&ticketType,
		&t.Amount,
		&t.Currency,
		&status,
		&t.ValidFrom,
		&t.ValidUntil,
		&validatedAt,
		&t.ValidatedTripID,
		&t.PaymentRef,
		&t.PaymentFailures,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return models.Ticket{}, err
	}
	t.TicketType = models.TicketType(ticketType)
	t.Status = models.Status(status)
	if validatedAt.Valid {
		at := validatedAt.Time
		t.ValidatedAt = &at
	}
	return t, nil
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
