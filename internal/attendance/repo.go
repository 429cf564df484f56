package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rsvp/internal/store"
)

// Repository persists RSVPs in Postgres or SQLite.
type Repository struct {
	db      *sql.DB
	dialect store.Dialect
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db.Client, dialect: db.Dialect}
}

const recordColumns = `id, full_name, phone_number, meal_preferences, attending, family_count,
	family_members, confirmation_code, credential, attended, attended_at, created_at, updated_at`

// Insert relies on the partial unique indexes over phone_number and
// confirmation_code (attending rows only) to make the uniqueness check and
// the write a single statement.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	meals, err := json.Marshal(mealStrings(rec.MealPreferences))
	if err != nil {
		return err
	}
	members := rec.FamilyMembers
	if members == nil {
		members = []string{}
	}
	family, err := json.Marshal(members)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(`
		INSERT INTO rsvps (`+recordColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`), rec.ID, rec.FullName, rec.PhoneNumber, string(meals), rec.Attending, rec.FamilyCount,
		string(family), rec.ConfirmationCode, rec.Credential, rec.Attended, rec.AttendedAt,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())

	if detail, ok := r.dialect.UniqueViolation(err); ok {
		switch {
		case strings.Contains(detail, "phone"):
			return ErrDuplicatePhone
		case strings.Contains(detail, "code"):
			return ErrCodeTaken
		}
	}
	return err
}

// FindByID returns a single record by id.
func (r *Repository) FindByID(ctx context.Context, id string) (*Record, error) {
	return r.findOne(ctx, `WHERE id = ?`, id)
}

// FindByCode matches the confirmation code of an attending record.
func (r *Repository) FindByCode(ctx context.Context, code string) (*Record, error) {
	return r.findOne(ctx, `WHERE attending = ? AND confirmation_code = ?`, true, code)
}

// FindByPhone matches the phone number of an attending record.
func (r *Repository) FindByPhone(ctx context.Context, phone string) (*Record, error) {
	return r.findOne(ctx, `WHERE attending = ? AND phone_number = ?`, true, phone)
}

// CodeInUse reports whether an attending record holds code.
func (r *Repository) CodeInUse(ctx context.Context, code string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		`SELECT COUNT(*) FROM rsvps WHERE attending = ? AND confirmation_code = ?`), true, code).Scan(&n)
	return n > 0, err
}

func (r *Repository) findOne(ctx context.Context, where string, args ...any) (*Record, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT `+recordColumns+` FROM rsvps `+where+` LIMIT 1`), args...)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// List returns every record, oldest first.
func (r *Repository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM rsvps ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Stats counts registrations in one pass.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN attending THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN attended THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN attending AND meal_preferences LIKE ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN attending AND meal_preferences LIKE ? THEN 1 ELSE 0 END), 0)
		FROM rsvps
	`), `%"`+string(MealVeg)+`"%`, `%"`+string(MealNonVeg)+`"%`).
		Scan(&st.TotalRSVPs, &st.Attending, &st.Attended, &st.VegCount, &st.NonVegCount)
	return st, err
}

// MarkAttended is the conditional update behind check-in.
func (r *Repository) MarkAttended(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
		UPDATE rsvps
		SET attended = ?, attended_at = ?, updated_at = ?
		WHERE id = ? AND attending = ? AND attended = ?
	`), true, at.UTC(), at.UTC(), id, true, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (Record, error) {
	var (
		rec        Record
		meals      string
		family     string
		attendedAt sql.NullTime
	)
	if err := s.Scan(&rec.ID, &rec.FullName, &rec.PhoneNumber, &meals, &rec.Attending, &rec.FamilyCount,
		&family, &rec.ConfirmationCode, &rec.Credential, &rec.Attended, &attendedAt,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}

	var names []string
	if err := json.Unmarshal([]byte(meals), &names); err != nil {
		return Record{}, fmt.Errorf("decode meal_preferences for %s: %w", rec.ID, err)
	}
	rec.MealPreferences = make([]MealPreference, 0, len(names))
	for _, n := range names {
		rec.MealPreferences = append(rec.MealPreferences, MealPreference(n))
	}
	rec.FamilyMembers = []string{}
	if err := json.Unmarshal([]byte(family), &rec.FamilyMembers); err != nil {
		return Record{}, fmt.Errorf("decode family_members for %s: %w", rec.ID, err)
	}
	if attendedAt.Valid {
		t := attendedAt.Time.UTC()
		rec.AttendedAt = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func mealStrings(meals []MealPreference) []string {
	out := make([]string, 0, len(meals))
	for _, m := range meals {
		out = append(out, string(m))
	}
	return out
}
