// Package db provides database initialization and access for the CRM.
//
// SQLite is the default store. A DSN starting with postgres:// or
// postgresql:// selects PostgreSQL instead; the schema is written once in
// SQLite syntax and translated at migration time.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL flavor of an open database.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// DefaultPath returns the default database path: ~/.meydacrm/crm.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".meydacrm", "crm.db"), nil
}

// DialectFor returns the dialect implied by a DSN.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open opens (or creates) the database named by dsn and runs migrations.
// For SQLite, dsn is a file path; WAL mode and foreign keys are enabled on
// every pooled connection.
func Open(dsn string) (*sqlx.DB, error) {
	dialect := DialectFor(dsn)

	source := dsn
	if dialect == SQLite {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
		source = sqliteSource(dsn)
	}

	db, err := sqlx.Open(string(dialect), source)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("connecting: %w (also failed to close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("connecting: %w", err)
	}

	if err := migrate(db, dialect); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (also failed to close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// sqliteSource builds a go-sqlite3 DSN with per-connection pragmas.
func sqliteSource(path string) string {
	return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}
