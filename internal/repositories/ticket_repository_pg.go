package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
)

const pgUniqueViolation = "23505"

const pgTicketColumns = `id, passenger_id, trip_id, ticket_type, amount::text, currency, status,
	valid_from, valid_until, validated_at, COALESCE(validated_trip_id, ''), COALESCE(payment_ref, ''),
	payment_failures, version, created_at, updated_at`

// PgSchema is applied by PgTicketRepository.Migrate.
const PgSchema = `
CREATE TABLE IF NOT EXISTS tickets (
	id                TEXT PRIMARY KEY,
	passenger_id      TEXT          NOT NULL,
	trip_id           TEXT          NOT NULL,
	ticket_type       TEXT          NOT NULL,
	amount            NUMERIC(12,2) NOT NULL,
	currency          TEXT          NOT NULL,
	status            TEXT          NOT NULL,
	valid_from        TIMESTAMPTZ   NOT NULL,
	valid_until       TIMESTAMPTZ   NOT NULL,
	validated_at      TIMESTAMPTZ,
	validated_trip_id TEXT,
	payment_ref       TEXT,
	payment_failures  INT           NOT NULL DEFAULT 0,
	version           BIGINT        NOT NULL,
	created_at        TIMESTAMPTZ   NOT NULL,
	updated_at        TIMESTAMPTZ   NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_passenger ON tickets (passenger_id);
CREATE INDEX IF NOT EXISTS idx_tickets_trip ON tickets (trip_id);
CREATE INDEX IF NOT EXISTS idx_tickets_status_valid_until ON tickets (status, valid_until);
CREATE TABLE IF NOT EXISTS payment_applications (
	payment_ref   TEXT PRIMARY KEY,
	ticket_id     TEXT        NOT NULL,
	outcome       TEXT        NOT NULL,
	result_status TEXT        NOT NULL,
	next_ref      TEXT,
	applied_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payment_applications_ticket ON payment_applications (ticket_id);
`

// PgQuerier is the part of *pgxpool.Pool the store uses.
type PgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PgTicketRepository is the Postgres Ticket Store, same CAS contract as TicketRepository.
type PgTicketRepository struct {
	pool PgQuerier
}

func NewPgTicketRepository(pool PgQuerier) *PgTicketRepository {
	return &PgTicketRepository{pool: pool}
}

func (r *PgTicketRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, PgSchema); err != nil {
		return fmt.Errorf("migrate tickets: %w", err)
	}
	return nil
}

func (r *PgTicketRepository) Insert(ctx context.Context, t models.Ticket) error {
	const query = `
		INSERT INTO tickets (id, passenger_id, trip_id, ticket_type, amount, currency, status,
			valid_from, valid_until, payment_ref, payment_failures, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14)
	`
	_, err := r.pool.Exec(ctx, query,
		t.ID, t.PassengerID, t.TripID, string(t.TicketType), t.Amount.StringFixed(2), t.Currency, string(t.Status),
		t.ValidFrom, t.ValidUntil, t.PaymentRef, t.PaymentFailures, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateTicket
	}
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *PgTicketRepository) Get(ctx context.Context, id string) (models.Ticket, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pgTicketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanPgTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, domain.NotFoundError{Resource: "ticket", Err: err}
	}
	if err != nil {
		return models.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// Update writes next only if the stored version still equals expectedVersion.
// When app is set the payment application is recorded in the same transaction.
func (r *PgTicketRepository) Update(ctx context.Context, next models.Ticket, expectedVersion int64, app *models.PaymentApplication) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = $1, validated_at = COALESCE(validated_at, $2), validated_trip_id = NULLIF($3, ''),
		    payment_ref = NULLIF($4, ''), payment_failures = $5, version = $6, updated_at = $7
		WHERE id = $8 AND version = $9`,
		string(next.Status), next.ValidatedAt, next.ValidatedTripID, next.PaymentRef,
		next.PaymentFailures, expectedVersion+1, next.UpdatedAt,
		next.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleVersion
	}

	if app != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO payment_applications (payment_ref, ticket_id, outcome, result_status, next_ref, applied_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
			app.PaymentRef, app.TicketID, string(app.Outcome), string(app.ResultStatus), app.NextRef, app.AppliedAt,
		)
		if isUniqueViolation(err) {
			return domain.ErrDuplicatePaymentRef
		}
		if err != nil {
			return fmt.Errorf("insert payment application: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ticket update: %w", err)
	}
	return nil
}

func (r *PgTicketRepository) GetPaymentApplication(ctx context.Context, ref string) (models.PaymentApplication, bool, error) {
	var (
		app             models.PaymentApplication
		outcome, status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT payment_ref, ticket_id, outcome, result_status, COALESCE(next_ref, ''), applied_at
		FROM payment_applications
		WHERE payment_ref = $1`, ref).Scan(
		&app.PaymentRef, &app.TicketID, &outcome, &status, &app.NextRef, &app.AppliedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PaymentApplication{}, false, nil
	}
	if err != nil {
		return models.PaymentApplication{}, false, fmt.Errorf("get payment application: %w", err)
	}
	app.Outcome = models.PaymentOutcome(outcome)
	app.ResultStatus = models.Status(status)
	return app, true, nil
}

func (r *PgTicketRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.Ticket, error) {
	return r.list(ctx, `
		SELECT `+pgTicketColumns+` FROM tickets
		WHERE status IN ($1, $2) AND valid_until < $3
		ORDER BY valid_until ASC, id ASC
		LIMIT $4`,
		string(models.StatusPendingPayment), string(models.StatusPaid), now, limit,
	)
}

func (r *PgTicketRepository) ListByPassenger(ctx context.Context, passengerID string) ([]models.Ticket, error) {
	return r.list(ctx, `SELECT `+pgTicketColumns+` FROM tickets WHERE passenger_id = $1 ORDER BY created_at ASC, id ASC`, passengerID)
}

func (r *PgTicketRepository) ListByTrip(ctx context.Context, tripID string) ([]models.Ticket, error) {
	return r.list(ctx, `SELECT `+pgTicketColumns+` FROM tickets WHERE trip_id = $1 ORDER BY created_at ASC, id ASC`, tripID)
}

func (r *PgTicketRepository) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
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

func (r *PgTicketRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PgTicketRepository) list(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	out := []models.Ticket{}
	for rows.Next() {
		t, err := scanPgTicket(rows)
		if err != nil {
			return out, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanPgTicket(row pgx.Row) (models.Ticket, error) {
	var (
		t                          models.Ticket
		ticketType, status, amount string
	)
	if err := row.Scan(
		&t.ID,
		&t.PassengerID,
		&t.TripID,
		&ticketType,
		&amount,
		&t.Currency,
		&status,
		&t.ValidFrom,
		&t.ValidUntil,
		&t.ValidatedAt,
		&t.ValidatedTripID,
		&t.PaymentRef,
		&t.PaymentFailures,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return models.Ticket{}, err
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	t.Amount = amt
	t.TicketType = models.TicketType(ticketType)
	t.Status = models.Status(status)
	return t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
