package attendance

import (
	"context"
	"errors"
	"time"

	"rsvp/internal/apperr"
)

// Errors surfaced by the registration, lookup and check-in operations.
var (
	ErrMissingFields      = apperr.New(apperr.KindValidation, apperr.CodeMissingFields, "required fields are missing")
	ErrInvalidInput       = apperr.New(apperr.KindValidation, apperr.CodeInvalidInput, "invalid input")
	ErrDuplicatePhone     = apperr.New(apperr.KindConflict, apperr.CodeDuplicatePhone, "phone number already registered")
	ErrCodeSpaceExhausted = apperr.New(apperr.KindConflict, apperr.CodeCodeSpaceExhausted, "no free confirmation code could be allocated")
	ErrNotFound           = apperr.New(apperr.KindNotFound, apperr.CodeNotFound, "no matching registration")
	ErrAlreadyCheckedIn   = apperr.New(apperr.KindState, apperr.CodeAlreadyCheckedIn, "guest already checked in")
	ErrNotAttending       = apperr.New(apperr.KindState, apperr.CodeNotAttending, "guest is not attending the event")
)

// ErrCodeTaken is returned by Store.Insert when an attending record already
// holds the confirmation code. The service redraws on it.
var ErrCodeTaken = errors.New("confirmation code taken")

// Store is the persistence contract the service relies on. Find methods
// return (nil, nil) when nothing matches.
type Store interface {
	// Insert persists rec. For attending records it is a single atomic
	// "insert unless an attending record holds this phone or code" and fails
	// with ErrDuplicatePhone or ErrCodeTaken.
	Insert(ctx context.Context, rec Record) error
	FindByID(ctx context.Context, id string) (*Record, error)
	FindByCode(ctx context.Context, code string) (*Record, error)
	FindByPhone(ctx context.Context, phone string) (*Record, error)
	CodeInUse(ctx context.Context, code string) (bool, error)
	List(ctx context.Context) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
	// MarkAttended sets attended, attendedAt and updatedAt on id only if the
	// record is attending and not yet attended, as one conditional update.
	// It reports whether the transition was applied.
	MarkAttended(ctx context.Context, id string, at time.Time) (bool, error)
	Ping(ctx context.Context) error
}
