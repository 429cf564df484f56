package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB together with the SQL dialect of its driver.
type DB struct {
	Client  *sql.DB
	Dialect Dialect
}

// NewDB opens a connection for driver ("postgres" or "sqlite") and pings it.
func NewDB(ctx context.Context, driver, dsn string) (*DB, error) {
	var d Dialect
	switch driver {
	case "postgres", "pgx":
		d = Postgres
	case "sqlite", "sqlite3":
		d = SQLite
		var path string
		path, dsn = sqliteDSN(dsn)
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(d.maxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return &DB{Client: db, Dialect: d}, db.PingContext(pingCtx)
}

// Migrate creates the rsvps table and its indexes if they are missing.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range d.Dialect.schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Dialect captures what differs between the supported SQL engines.
type Dialect struct {
	Name         string
	DriverName   string
	numbered     bool
	maxOpenConns int
	schema       []string
	unique       func(error) (string, bool)
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// sqliteDSN returns the database file path of dsn and dsn with WAL and a
// busy timeout appended to whatever query it already carries.
func sqliteDSN(dsn string) (path, full string) {
	path, query, hasQuery := strings.Cut(dsn, "?")
	path = strings.TrimPrefix(path, "file:")
	sep := "?"
	if hasQuery {
		sep = "&"
		if query == "" {
			sep = ""
		}
	}
	return path, dsn + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

// UniqueViolation reports whether err is a unique-constraint failure and
// returns the engine's description of the violated constraint.
func (d Dialect) UniqueViolation(err error) (string, bool) {
	if err == nil || d.unique == nil {
		return "", false
	}
	return d.unique(err)
}

// Postgres is the pgx dialect.
var Postgres = Dialect{
	Name:         "postgres",
	DriverName:   "pgx",
	numbered:     true,
	maxOpenConns: 10,
	schema:       schema("TIMESTAMPTZ"),
	unique: func(err error) (string, bool) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return pgErr.ConstraintName, true
		}
		return "", false
	},
}

// SQLite is the mattn/go-sqlite3 dialect.
var SQLite = Dialect{
	Name:         "sqlite",
	DriverName:   "sqlite3",
	maxOpenConns: 1,
	schema:       schema("DATETIME"),
	unique: func(err error) (string, bool) {
		var sqErr sqlite3.Error
		if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return sqErr.Error(), true
		}
		return "", false
	},
}

// Both engines support partial indexes, which is what keeps phone numbers and
// confirmation codes unique among attending guests only.
func schema(timestampType string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS rsvps (
			id                TEXT PRIMARY KEY,
			full_name         TEXT NOT NULL,
			phone_number      TEXT NOT NULL DEFAULT '',
			meal_preferences  TEXT NOT NULL DEFAULT '[]',
			attending         BOOLEAN NOT NULL,
			family_count      INTEGER NOT NULL DEFAULT 1,
			family_members    TEXT NOT NULL DEFAULT '[]',
			confirmation_code TEXT NOT NULL DEFAULT '',
			credential        TEXT NOT NULL DEFAULT '',
			attended          BOOLEAN NOT NULL DEFAULT FALSE,
			attended_at       ` + timestampType + `,
			created_at        ` + timestampType + ` NOT NULL,
			updated_at        ` + timestampType + ` NOT NULL,
			CHECK (attending OR NOT attended)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS rsvps_phone_attending_uq ON rsvps (phone_number) WHERE attending`,
		`CREATE UNIQUE INDEX IF NOT EXISTS rsvps_code_attending_uq ON rsvps (confirmation_code) WHERE attending`,
		`CREATE INDEX IF NOT EXISTS rsvps_created_at_idx ON rsvps (created_at)`,
	}
}
