package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// mysqlSchema holds the tables owned by the ticketing service. The indexes
// follow the lookups the engine makes: by passenger, by trip, and the
// expiry sweep's (status, valid_until) range scan.
var mysqlSchema = []struct {
	table string
	ddl   string
}{
	{"tickets", `
		CREATE TABLE IF NOT EXISTS tickets (
			id                VARCHAR(64)    NOT NULL PRIMARY KEY,
			passenger_id      VARCHAR(64)    NOT NULL,
			trip_id           VARCHAR(64)    NOT NULL,
			ticket_type       VARCHAR(32)    NOT NULL,
			amount            DECIMAL(12,2)  NOT NULL,
			currency          VARCHAR(8)     NOT NULL,
			status            VARCHAR(32)    NOT NULL,
			valid_from        DATETIME(6)    NOT NULL,
			valid_until       DATETIME(6)    NOT NULL,
			validated_at      DATETIME(6)    NULL,
			validated_trip_id VARCHAR(64)    NULL,
			payment_ref       VARCHAR(64)    NULL,
			payment_failures  INT            NOT NULL DEFAULT 0,
			version           BIGINT         NOT NULL,
			created_at        DATETIME(6)    NOT NULL,
			updated_at        DATETIME(6)    NOT NULL,
			KEY idx_tickets_passenger (passenger_id),
			KEY idx_tickets_trip (trip_id),
			KEY idx_tickets_status_valid_until (status, valid_until)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"payment_applications", `
		CREATE TABLE IF NOT EXISTS payment_applications (
			payment_ref   VARCHAR(64) NOT NULL PRIMARY KEY,
			ticket_id     VARCHAR(64) NOT NULL,
			outcome       VARCHAR(16) NOT NULL,
			result_status VARCHAR(32) NOT NULL,
			next_ref      VARCHAR(64) NULL,
			applied_at    DATETIME(6) NOT NULL,
			KEY idx_payment_applications_ticket (ticket_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}

// EnsureSchema creates missing ticketing tables. Existing tables are left
// alone, but an existing tickets table must already carry the version column.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	for _, t := range mysqlSchema {
		if HasTable(ctx, conn, t.table) {
			if t.table == "tickets" && !HasColumn(ctx, conn, "tickets", "version") {
				return fmt.Errorf("existing tickets table has no version column")
			}
			continue
		}
		if _, err := conn.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.table, err)
		}
		log.Printf("[DB] created table %s", t.table)
	}
	return nil
}
