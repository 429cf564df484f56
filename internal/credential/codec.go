// Package credential serializes the guest-identifying payload embedded in a
// scannable confirmation credential.
//
// The encoded form is a JSON object so that scanners and dashboards can read
// it without this package. Decoding is strict about shape: anything that is
// not a single JSON object with the expected field types is malformed, and a
// payload without a confirmation code is rejected separately so callers can
// tell "not a credential" apart from "unknown guest".
package credential

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"rsvp/internal/apperr"
)

var (
	// ErrMalformed is returned for input that is not a well-formed payload.
	ErrMalformed = apperr.New(apperr.KindCredential, apperr.CodeMalformed, "credential is malformed")
	// ErrMissingField is returned when the payload carries no confirmation code.
	ErrMissingField = apperr.New(apperr.KindCredential, apperr.CodeMissingField, "credential has no confirmation code")
)

// Payload is the data a credential proves.
type Payload struct {
	FullName         string    `json:"fullName"`
	PhoneNumber      string    `json:"phoneNumber"`
	Attending        bool      `json:"attending"`
	MealPreferences  []string  `json:"mealPreferences"`
	FamilyCount      int       `json:"familyCount"`
	FamilyMembers    []string  `json:"familyMembers"`
	ConfirmationCode string    `json:"confirmationCode"`
	IssuedAt         time.Time `json:"timestamp"`
}

// wirePayload accepts the shapes older scanners emit: "Yes"/"No" for
// attending, a bare string for a single meal preference, and the
// confirmationNumber key.
type wirePayload struct {
	FullName           string     `json:"fullName"`
	PhoneNumber        string     `json:"phoneNumber"`
	Attending          YesNo      `json:"attending"`
	MealPreferences    StringList `json:"mealPreferences"`
	FamilyCount        int        `json:"familyCount"`
	FamilyMembers      []string   `json:"familyMembers"`
	ConfirmationCode   string     `json:"confirmationCode"`
	ConfirmationNumber string     `json:"confirmationNumber"`
	IssuedAt           time.Time  `json:"timestamp"`
}

// Encode serializes p.
func Encode(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, apperr.CodeMalformed, "encode credential", err)
	}
	return string(b), nil
}

// Decode parses a blob produced by Encode (or by a legacy scanner).
func Decode(blob string) (Payload, error) {
	raw := bytes.TrimSpace([]byte(blob))
	if len(raw) == 0 || raw[0] != '{' {
		return Payload{}, ErrMalformed
	}

	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return Payload{}, apperr.Wrap(ErrMalformed.Kind, ErrMalformed.Code, ErrMalformed.Message, err)
	}

	code := w.ConfirmationCode
	if code == "" {
		code = w.ConfirmationNumber
	}
	if code == "" {
		return Payload{}, ErrMissingField
	}
	if !ValidCode(code) {
		return Payload{}, ErrMalformed.With("credential confirmation code is not a 4-digit number")
	}

	return Payload{
		FullName:         w.FullName,
		PhoneNumber:      w.PhoneNumber,
		Attending:        bool(w.Attending),
		MealPreferences:  []string(w.MealPreferences),
		FamilyCount:      w.FamilyCount,
		FamilyMembers:    w.FamilyMembers,
		ConfirmationCode: code,
		IssuedAt:         w.IssuedAt,
	}, nil
}

// ValidCode reports whether code is a 4-digit numeric string in [1000, 9999].
func ValidCode(code string) bool {
	if len(code) != 4 || code[0] == '0' {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// YesNo is a bool that also accepts the strings "Yes" and "No".
type YesNo bool

func (y *YesNo) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*y = YesNo(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		*y = true
	case "no", "false":
		*y = false
	default:
		return &json.UnsupportedValueError{Str: s}
	}
	return nil
}

// StringList is a list of strings that also accepts a single bare string.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}
