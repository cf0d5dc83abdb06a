package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// migrations is an ordered list of SQL statements to run, written for SQLite.
// Postgres receives them through translate.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT     NOT NULL UNIQUE,
		display_name  TEXT     NOT NULL DEFAULT '',
		email         TEXT     NOT NULL DEFAULT '',
		role          TEXT     NOT NULL CHECK (role IN ('admin', 'sales')),
		password_hash TEXT     NOT NULL,
		active        BOOLEAN  NOT NULL DEFAULT TRUE,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_login_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT     PRIMARY KEY,
		profile_id INTEGER  NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS reset_tokens (
		id         INTEGER  PRIMARY KEY AUTOINCREMENT,
		token      TEXT     NOT NULL UNIQUE,
		profile_id INTEGER  NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL,
		used       BOOLEAN  NOT NULL DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id           INTEGER  PRIMARY KEY AUTOINCREMENT,
		profile_id   INTEGER  NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		name         TEXT     NOT NULL,
		key_prefix   TEXT     NOT NULL,
		key_hash     TEXT     NOT NULL UNIQUE,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS passkey_credentials (
		id              TEXT     PRIMARY KEY,
		profile_id      INTEGER  NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		name            TEXT     NOT NULL DEFAULT '',
		credential_json TEXT     NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS leads (
		id          INTEGER  PRIMARY KEY AUTOINCREMENT,
		first_name  TEXT     NOT NULL DEFAULT '',
		last_name   TEXT     NOT NULL DEFAULT '',
		email       TEXT     NOT NULL DEFAULT '',
		phone       TEXT     NOT NULL DEFAULT '',
		company     TEXT     NOT NULL DEFAULT '',
		job_title   TEXT     NOT NULL DEFAULT '',
		address     TEXT     NOT NULL DEFAULT '',
		city        TEXT     NOT NULL DEFAULT '',
		postal_code TEXT     NOT NULL DEFAULT '',
		country     TEXT     NOT NULL DEFAULT '',
		source      TEXT     NOT NULL DEFAULT '',
		status      TEXT     NOT NULL DEFAULT 'new',
		notes       TEXT     NOT NULL DEFAULT '',
		assigned_to INTEGER  REFERENCES profiles(id) ON DELETE SET NULL,
		created_by  INTEGER  REFERENCES profiles(id) ON DELETE SET NULL,
		latitude    REAL,
		longitude   REAL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		deleted_at  DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leads_assigned ON leads (assigned_to)`,
	`CREATE INDEX IF NOT EXISTS idx_leads_status ON leads (status)`,
	`CREATE TABLE IF NOT EXISTS lead_comments (
		id         INTEGER  PRIMARY KEY AUTOINCREMENT,
		lead_id    INTEGER  NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
		author_id  INTEGER  REFERENCES profiles(id) ON DELETE SET NULL,
		body       TEXT     NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS lead_history (
		id         INTEGER  PRIMARY KEY AUTOINCREMENT,
		lead_id    INTEGER  NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
		actor_id   INTEGER  REFERENCES profiles(id) ON DELETE SET NULL,
		event_type TEXT     NOT NULL,
		payload    TEXT     NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_history_lead ON lead_history (lead_id)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id          INTEGER  PRIMARY KEY AUTOINCREMENT,
		subject     TEXT     NOT NULL,
		description TEXT     NOT NULL DEFAULT '',
		category    TEXT     NOT NULL,
		priority    TEXT     NOT NULL DEFAULT 'normal',
		status      TEXT     NOT NULL DEFAULT 'open',
		created_by  INTEGER  NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		closed_at   DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_comments (
		id         INTEGER  PRIMARY KEY AUTOINCREMENT,
		ticket_id  INTEGER  NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		author_id  INTEGER  REFERENCES profiles(id) ON DELETE SET NULL,
		body       TEXT     NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS banners (
		id          INTEGER  PRIMARY KEY AUTOINCREMENT,
		message     TEXT     NOT NULL,
		level       TEXT     NOT NULL DEFAULT 'info',
		audience    TEXT     NOT NULL DEFAULT 'all',
		target_role TEXT     NOT NULL DEFAULT '',
		active      BOOLEAN  NOT NULL DEFAULT TRUE,
		starts_at   DATETIME NOT NULL,
		expires_at  DATETIME,
		created_by  INTEGER  REFERENCES profiles(id) ON DELETE SET NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS banner_targets (
		banner_id  INTEGER NOT NULL REFERENCES banners(id) ON DELETE CASCADE,
		profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		PRIMARY KEY (banner_id, profile_id)
	)`,
	`CREATE TABLE IF NOT EXISTS banner_dismissals (
		banner_id    INTEGER  NOT NULL REFERENCES banners(id) ON DELETE CASCADE,
		profile_id   INTEGER  NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		dismissed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (banner_id, profile_id)
	)`,
}

// columnMigrations are additive column changes applied after the base schema.
var columnMigrations = []struct {
	table, column, definition string
}{
	{"leads", "external_id", "TEXT NOT NULL DEFAULT ''"},
	{"tickets", "assigned_to", "INTEGER REFERENCES profiles(id) ON DELETE SET NULL"},
}

// migrate runs all migrations in order.
func migrate(db *sqlx.DB, dialect Dialect) error {
	for i, m := range migrations {
		if _, err := db.Exec(translate(m, dialect)); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	for _, cm := range columnMigrations {
		if err := addColumnIfNotExists(db, dialect, cm.table, cm.column, cm.definition); err != nil {
			return fmt.Errorf("adding %s.%s: %w", cm.table, cm.column, err)
		}
	}

	return nil
}

// translate rewrites SQLite DDL for the target dialect.
func translate(stmt string, dialect Dialect) string {
	if dialect != Postgres {
		return stmt
	}
	r := strings.NewReplacer(
		"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY",
		"INTEGER  PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY",
		"INTEGER", "BIGINT",
		"DATETIME", "TIMESTAMPTZ",
		"REAL", "DOUBLE PRECISION",
	)
	return r.Replace(stmt)
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(db *sqlx.DB, dialect Dialect, table, column, definition string) error {
	if dialect == Postgres {
		_, err := db.Exec(translate(fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, definition), dialect))
		return err
	}

	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("checking table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scanning column info: %w", err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating columns: %w", err)
	}

	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}
