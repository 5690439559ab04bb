package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migration represents one idempotent schema step
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// column types that differ between backends
type dialectTypes struct {
	timestamp string
	json      string
}

func typesFor(d Dialect) dialectTypes {
	if d == SQLite {
		return dialectTypes{timestamp: "TIMESTAMP", json: "TEXT"}
	}
	return dialectTypes{timestamp: "TIMESTAMPTZ", json: "JSONB"}
}

// Migrations returns the schema for the given dialect
func Migrations(d Dialect) []Migration {
	t := typesFor(d)
	expand := func(s string) string {
		return strings.NewReplacer("{{ts}}", t.timestamp, "{{json}}", t.json).Replace(s)
	}

	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			Statements: []string{
				expand(`CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(36) PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(320) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					role VARCHAR(32) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					password_hash VARCHAR(255) NOT NULL,
					created_at {{ts}} NOT NULL,
					updated_at {{ts}} NOT NULL
				)`),
				`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
			},
		},
		{
			Version:     2,
			Description: "Create invitations table",
			Statements: []string{
				expand(`CREATE TABLE IF NOT EXISTS invitations (
					id VARCHAR(36) PRIMARY KEY,
					email VARCHAR(320) NOT NULL,
					role VARCHAR(32) NOT NULL,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					invited_by VARCHAR(36) NOT NULL,
					inviter_name VARCHAR(255) NOT NULL,
					inviter_email VARCHAR(320) NOT NULL,
					inviter_role VARCHAR(32) NOT NULL,
					created_at {{ts}} NOT NULL,
					expires_at {{ts}} NOT NULL,
					used BOOLEAN NOT NULL DEFAULT FALSE,
					used_at {{ts}}
				)`),
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_active_pair ON invitations(email, role) WHERE used = FALSE`,
				`CREATE INDEX IF NOT EXISTS idx_invitations_invited_by ON invitations(invited_by)`,
				`CREATE INDEX IF NOT EXISTS idx_invitations_expires_at ON invitations(expires_at)`,
			},
		},
		{
			Version:     3,
			Description: "Create password_resets table",
			Statements: []string{
				expand(`CREATE TABLE IF NOT EXISTS password_resets (
					id VARCHAR(36) PRIMARY KEY,
					user_id VARCHAR(36) NOT NULL,
					email VARCHAR(320) NOT NULL,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					created_at {{ts}} NOT NULL,
					expires_at {{ts}} NOT NULL,
					used BOOLEAN NOT NULL DEFAULT FALSE,
					used_at {{ts}}
				)`),
				`CREATE INDEX IF NOT EXISTS idx_password_resets_user_id ON password_resets(user_id)`,
				`CREATE INDEX IF NOT EXISTS idx_password_resets_expires_at ON password_resets(expires_at)`,
			},
		},
		{
			Version:     4,
			Description: "Create audit_events table",
			Statements: []string{
				expand(`CREATE TABLE IF NOT EXISTS audit_events (
					id VARCHAR(36) PRIMARY KEY,
					occurred_at {{ts}} NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					actor_id VARCHAR(36),
					actor_role VARCHAR(32),
					target_type VARCHAR(50),
					target_id VARCHAR(255),
					ip_address VARCHAR(45),
					user_agent TEXT,
					request_id VARCHAR(100),
					message TEXT,
					metadata {{json}}
				)`),
				`CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events(occurred_at)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON audit_events(actor_id)`,
			},
		},
	}
}

// EnsureSchema creates every table and index that does not exist yet
func EnsureSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, m := range Migrations(d) {
		for _, stmt := range m.Statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
			}
		}
	}
	return nil
}
