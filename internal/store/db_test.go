package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	q := `UPDATE rsvps SET attended = ?, attended_at = ? WHERE id = ? AND attending = ?`

	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite should keep ? placeholders, got %s", got)
	}
	want := `UPDATE rsvps SET attended = $1, attended_at = $2 WHERE id = $3 AND attending = $4`
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("postgres rebind:\n got %s\nwant %s", got, want)
	}
}

func TestSQLiteDSNKeepsExistingQuery(t *testing.T) {
	cases := []struct {
		in, path, full string
	}{
		{"data/rsvp.db", "data/rsvp.db", "data/rsvp.db?_journal_mode=WAL&_busy_timeout=5000"},
		{"file:x.db?cache=shared", "x.db", "file:x.db?cache=shared&_journal_mode=WAL&_busy_timeout=5000"},
		{"file:/tmp/a/x.db?", "/tmp/a/x.db", "file:/tmp/a/x.db?_journal_mode=WAL&_busy_timeout=5000"},
	}
	for _, tc := range cases {
		path, full := sqliteDSN(tc.in)
		if path != tc.path || full != tc.full {
			t.Fatalf("sqliteDSN(%q) = %q, %q; want %q, %q", tc.in, path, full, tc.path, tc.full)
		}
	}
}

func TestNewDBSQLiteURIWithQuery(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "nested", "rsvp.db") + "?cache=shared"
	db, err := NewDB(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("open %s: %v", dsn, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	if _, err := NewDB(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestSQLiteMigrateAndUniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, "sqlite", filepath.Join(t.TempDir(), "rsvp.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}

	insert := `INSERT INTO rsvps (id, full_name, phone_number, attending, confirmation_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	if _, err := db.Client.ExecContext(ctx, insert, "a", "A", "555", true, "1234"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = db.Client.ExecContext(ctx, insert, "b", "B", "555", true, "4321")
	detail, ok := db.Dialect.UniqueViolation(err)
	if !ok {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if detail == "" {
		t.Fatal("expected constraint detail")
	}

	// Non-attending rows are outside the partial index.
	if _, err := db.Client.ExecContext(ctx, insert, "c", "C", "555", false, "1234"); err != nil {
		t.Fatalf("insert non-attending: %v", err)
	}
}
