package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is written in the subset of SQL shared by MySQL 8 and SQLite so the
// repositories can be exercised against an embedded database in tests.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS calendar_entries (
		service_id      VARCHAR(64) NOT NULL,
		entry_date      DATE        NOT NULL,
		total_capacity  INT         NOT NULL,
		booked_capacity INT         NOT NULL DEFAULT 0,
		is_open         BOOLEAN     NOT NULL DEFAULT TRUE,
		version         BIGINT      NOT NULL DEFAULT 0,
		created_at      DATETIME    NOT NULL,
		updated_at      DATETIME    NOT NULL,
		PRIMARY KEY (service_id, entry_date),
		CHECK (booked_capacity >= 0 AND booked_capacity <= total_capacity)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id          CHAR(36)    NOT NULL PRIMARY KEY,
		checkout_id CHAR(36)    NOT NULL,
		owner_id    VARCHAR(64) NOT NULL,
		service_id  VARCHAR(64) NOT NULL,
		event_date  DATE        NOT NULL,
		quantity    INT         NOT NULL,
		status      VARCHAR(16) NOT NULL,
		created_at  DATETIME    NOT NULL,
		updated_at  DATETIME    NOT NULL
	)`,
}

// Migrate creates the engine tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
