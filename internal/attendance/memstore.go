package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for development and tests. Every
// operation holds one mutex, which gives the same atomicity the SQL
// repository gets from its partial unique indexes and conditional update.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return ErrInvalidInput.With("record id already exists")
	}
	if rec.Attending {
		codeTaken := false
		for _, r := range m.records {
			if !r.Attending {
				continue
			}
			if r.PhoneNumber == rec.PhoneNumber {
				return ErrDuplicatePhone
			}
			codeTaken = codeTaken || r.ConfirmationCode == rec.ConfirmationCode
		}
		if codeTaken {
			return ErrCodeTaken
		}
	}
	cp := cloneRecord(rec)
	m.records[rec.ID] = &cp
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		cp := cloneRecord(*r)
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) FindByCode(_ context.Context, code string) (*Record, error) {
	return m.findAttending(func(r *Record) bool { return r.ConfirmationCode == code }), nil
}

func (m *MemoryStore) FindByPhone(_ context.Context, phone string) (*Record, error) {
	return m.findAttending(func(r *Record) bool { return r.PhoneNumber == phone }), nil
}

func (m *MemoryStore) CodeInUse(ctx context.Context, code string) (bool, error) {
	r, err := m.FindByCode(ctx, code)
	return r != nil, err
}

func (m *MemoryStore) findAttending(match func(*Record) bool) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		r := m.records[id]
		if r.Attending && match(r) {
			cp := cloneRecord(*r)
			return &cp
		}
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneRecord(*m.records[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, r := range m.records {
		st.TotalRSVPs++
		if r.Attended {
			st.Attended++
		}
		if !r.Attending {
			continue
		}
		st.Attending++
		if r.HasMeal(MealVeg) {
			st.VegCount++
		}
		if r.HasMeal(MealNonVeg) {
			st.NonVegCount++
		}
	}
	return st, nil
}

func (m *MemoryStore) MarkAttended(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || !r.Attending || r.Attended {
		return false, nil
	}
	t := at
	r.Attended = true
	r.AttendedAt = &t
	r.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func cloneRecord(r Record) Record {
	r.MealPreferences = append([]MealPreference{}, r.MealPreferences...)
	r.FamilyMembers = append([]string{}, r.FamilyMembers...)
	if r.AttendedAt != nil {
		t := *r.AttendedAt
		r.AttendedAt = &t
	}
	return r
}
