package persistence

import (
	"database/sql"
	"fmt"
)

// EnsureDestinationSchema creates the destinations table for PostgreSQL if it
// does not exist. Safe to call at startup.
func EnsureDestinationSchema(db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS destinations (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    client_id TEXT NOT NULL,
    client_secret TEXT,
    access_token TEXT,
    access_expires_at TIMESTAMPTZ,
    refresh_token TEXT,
    refresh_expires_at TIMESTAMPTZ,
    extra JSONB NOT NULL DEFAULT '{}',
    accounts JSONB NOT NULL DEFAULT '[]',
    is_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, platform)
)`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create destinations: %w", err)
	}
	return nil
}
