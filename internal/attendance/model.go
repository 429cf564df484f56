package attendance

import (
	"encoding/json"
	"strings"
	"time"

	"rsvp/internal/credential"
)

// MealPreference is one of the two menus offered to attending guests.
type MealPreference string

const (
	MealVeg    MealPreference = "Veg"
	MealNonVeg MealPreference = "Non-Veg"
)

// ParseMealPreference accepts the canonical names and common spellings
// ("veg", "NonVeg", "non veg").
func ParseMealPreference(s string) (MealPreference, bool) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer("-", "", "_", "", " ", "").Replace(k)
	switch k {
	case "veg", "vegetarian":
		return MealVeg, true
	case "nonveg", "nonvegetarian":
		return MealNonVeg, true
	}
	return "", false
}

// State is the check-in lifecycle position of a record.
type State string

const (
	StateRegistered State = "registered" // not attending, terminal
	StateConfirmed  State = "confirmed"
	StateCheckedIn  State = "checked_in" // terminal
)

// Record is one guest's RSVP and check-in status.
type Record struct {
	ID               string           `json:"id"`
	FullName         string           `json:"fullName"`
	PhoneNumber      string           `json:"phoneNumber,omitempty"`
	MealPreferences  []MealPreference `json:"mealPreferences"`
	Attending        bool             `json:"attending"`
	FamilyCount      int              `json:"familyCount"`
	FamilyMembers    []string         `json:"familyMembers"`
	ConfirmationCode string           `json:"confirmationCode,omitempty"`
	Credential       string           `json:"credential,omitempty"`
	Attended         bool             `json:"attended"`
	AttendedAt       *time.Time       `json:"attendedAt"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// State derives the lifecycle state from the attending/attended flags.
func (r Record) State() State {
	switch {
	case !r.Attending:
		return StateRegistered
	case r.Attended:
		return StateCheckedIn
	default:
		return StateConfirmed
	}
}

// HasMeal reports whether m is among the record's meal preferences.
func (r Record) HasMeal(m MealPreference) bool {
	for _, p := range r.MealPreferences {
		if p == m {
			return true
		}
	}
	return false
}

// Stats aggregates the dashboard counters.
type Stats struct {
	TotalRSVPs  int `json:"totalRsvps"`
	Attending   int `json:"attending"`
	Attended    int `json:"attended"`
	VegCount    int `json:"vegCount"`
	NonVegCount int `json:"nonVegCount"`
}

// Input is a registration request as submitted by the guest form.
type Input struct {
	FullName        string
	PhoneNumber     string
	Attending       *bool // nil when the guest did not answer
	MealPreferences []string
	FamilyCount     int // 0 means the default of 1
	FamilyMembers   []string
}

// UnmarshalJSON accepts "Yes"/"No" or a bool for attending and a bare string
// or a list for mealPreferences.
func (in *Input) UnmarshalJSON(b []byte) error {
	var w struct {
		FullName        string                `json:"fullName"`
		PhoneNumber     string                `json:"phoneNumber"`
		Attending       *credential.YesNo     `json:"attending"`
		MealPreferences credential.StringList `json:"mealPreferences"`
		FamilyCount     int                   `json:"familyCount"`
		FamilyMembers   []string              `json:"familyMembers"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*in = Input{
		FullName:        w.FullName,
		PhoneNumber:     w.PhoneNumber,
		MealPreferences: w.MealPreferences,
		FamilyCount:     w.FamilyCount,
		FamilyMembers:   w.FamilyMembers,
	}
	if w.Attending != nil {
		v := bool(*w.Attending)
		in.Attending = &v
	}
	return nil
}

// NormalizePhone strips formatting characters so lookups match what was
// registered regardless of how staff type the number.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
