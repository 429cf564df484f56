package attendance

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rsvp/internal/apperr"
	"rsvp/internal/broadcast"
	"rsvp/internal/credential"
	"rsvp/internal/metrics"
	"rsvp/internal/token"
)

// DefaultMaxCodeAttempts bounds confirmation-code redraws per registration.
const DefaultMaxCodeAttempts = 32

var tracer = otel.Tracer("rsvp/attendance")

// Publisher fans events out to dashboards.
type Publisher interface {
	Publish(ctx context.Context, typ broadcast.EventType, payload any)
}

// TokenIssuer signs registration tokens.
type TokenIssuer interface {
	Issue(claims token.Claims, ttl time.Duration) (string, error)
}

// QRRenderer renders an encoded credential for display.
type QRRenderer interface {
	DataURL(blob string) (string, error)
}

// Registration is what a guest gets back after submitting the form. The code,
// token and credential are empty for guests who are not attending.
type Registration struct {
	Record           Record
	ConfirmationCode string
	Token            string
	Credential       string
	QRCodeDataURL    string
}

// CheckedIn is the payload of a successful check-in.
type CheckedIn struct {
	ID         string    `json:"id"`
	AttendedAt time.Time `json:"attendedAt"`
}

// Method selects how staff identify a guest.
type Method string

const (
	MethodCode       Method = "code"
	MethodPhone      Method = "phone"
	MethodCredential Method = "credential"
)

// Service coordinates registration, lookup and check-in.
type Service struct {
	store           Store
	tokens          TokenIssuer
	bus             Publisher
	qr              QRRenderer
	metrics         *metrics.Metrics
	log             zerolog.Logger
	now             func() time.Time
	codes           func() (string, error)
	tokenTTL        time.Duration
	maxCodeAttempts int
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithCodeSource replaces the random confirmation-code generator.
func WithCodeSource(next func() (string, error)) Option {
	return func(s *Service) { s.codes = next }
}

func WithQRRenderer(r QRRenderer) Option { return func(s *Service) { s.qr = r } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }
func WithTokenTTL(ttl time.Duration) Option { return func(s *Service) { s.tokenTTL = ttl } }
func WithMaxCodeAttempts(n int) Option { return func(s *Service) { s.maxCodeAttempts = n } }

// NewService creates a service backed by a store.
func NewService(store Store, tokens TokenIssuer, bus Publisher, opts ...Option) *Service {
	s := &Service{
		store:           store,
		tokens:          tokens,
		bus:             bus,
		log:             zerolog.Nop(),
		now:             time.Now,
		codes:           RandomCode,
		tokenTTL:        token.DefaultTTL,
		maxCodeAttempts: DefaultMaxCodeAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxCodeAttempts <= 0 {
		s.maxCodeAttempts = DefaultMaxCodeAttempts
	}
	if s.bus == nil {
		s.bus = nopPublisher{}
	}
	return s
}

// RandomCode draws a confirmation code uniformly from [1000, 9999].
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+1000, 10), nil
}

// Register validates and admits a new RSVP.
func (s *Service) Register(ctx context.Context, in Input) (reg Registration, err error) {
	ctx, span := tracer.Start(ctx, "attendance.Register")
	defer func() {
		endSpan(span, err)
		s.metrics.Registration(outcome(err))
	}()

	name := strings.TrimSpace(in.FullName)
	if name == "" || in.Attending == nil {
		return Registration{}, ErrMissingFields.With("full name and attendance status are required")
	}
	span.SetAttributes(attribute.Bool("rsvp.attending", *in.Attending))

	now := s.now().UTC()
	if !*in.Attending {
		rec := Record{
			ID:              uuid.NewString(),
			FullName:        name,
			MealPreferences: []MealPreference{},
			FamilyCount:     1,
			FamilyMembers:   []string{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.store.Insert(ctx, rec); err != nil {
			return Registration{}, storeErr("insert rsvp", err)
		}
		s.bus.Publish(ctx, broadcast.RegistrationCreated, rec)
		return Registration{Record: rec}, nil
	}

	phone := NormalizePhone(in.PhoneNumber)
	if phone == "" || len(in.MealPreferences) == 0 {
		return Registration{}, ErrMissingFields.With("phone number and meal preferences are required when attending")
	}
	meals, err := parseMeals(in.MealPreferences)
	if err != nil {
		return Registration{}, err
	}
	familyCount, members, err := normalizeFamily(in.FamilyCount, in.FamilyMembers)
	if err != nil {
		return Registration{}, err
	}

	// Fast path only; the insert below is what actually enforces uniqueness.
	if existing, err := s.store.FindByPhone(ctx, phone); err != nil {
		return Registration{}, storeErr("find rsvp by phone", err)
	} else if existing != nil {
		return Registration{}, ErrDuplicatePhone
	}

	rec := Record{
		ID:              uuid.NewString(),
		FullName:        name,
		PhoneNumber:     phone,
		MealPreferences: meals,
		Attending:       true,
		FamilyCount:     familyCount,
		FamilyMembers:   members,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 1; attempt <= s.maxCodeAttempts; attempt++ {
		code, err := s.codes()
		if err != nil {
			return Registration{}, apperr.Wrap(apperr.KindInternal, "", "draw confirmation code", err)
		}
		if inUse, err := s.store.CodeInUse(ctx, code); err != nil {
			return Registration{}, storeErr("check confirmation code", err)
		} else if inUse {
			s.log.Debug().Int("attempt", attempt).Msg("confirmation code collision, redrawing")
			continue
		}

		rec.ConfirmationCode = code
		blob, err := credential.Encode(credential.Payload{
			FullName:         rec.FullName,
			PhoneNumber:      rec.PhoneNumber,
			Attending:        true,
			MealPreferences:  mealStrings(rec.MealPreferences),
			FamilyCount:      rec.FamilyCount,
			FamilyMembers:    rec.FamilyMembers,
			ConfirmationCode: code,
			IssuedAt:         now,
		})
		if err != nil {
			return Registration{}, err
		}
		rec.Credential = blob

		tok, err := s.tokens.Issue(token.Claims{RecordID: rec.ID, ConfirmationCode: code}, s.tokenTTL)
		if err != nil {
			return Registration{}, apperr.Wrap(apperr.KindInternal, "", "issue token", err)
		}

		switch err := s.store.Insert(ctx, rec); {
		case errors.Is(err, ErrCodeTaken):
			s.log.Debug().Int("attempt", attempt).Msg("confirmation code taken at insert, redrawing")
			continue
		case err != nil:
			return Registration{}, storeErr("insert rsvp", err)
		}

		s.bus.Publish(ctx, broadcast.RegistrationCreated, rec)

		reg = Registration{Record: rec, ConfirmationCode: code, Token: tok, Credential: blob}
		if s.qr != nil {
			if url, err := s.qr.DataURL(blob); err != nil {
				s.log.Warn().Err(err).Str("rsvp_id", rec.ID).Msg("qr render failed")
			} else {
				reg.QRCodeDataURL = url
			}
		}
		s.log.Info().Str("rsvp_id", rec.ID).Int("family_count", rec.FamilyCount).Msg("attending rsvp registered")
		return reg, nil
	}

	s.log.Error().Int("attempts", s.maxCodeAttempts).Msg("confirmation code space exhausted")
	return Registration{}, ErrCodeSpaceExhausted
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, broadcast.EventType, any) {}

// ParseMethod maps a transport-level method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCode, MethodPhone, MethodCredential:
		return m, nil
	}
	return "", ErrInvalidInput.With("unknown lookup method " + strconv.Quote(s))
}

// Resolve finds the record identified by input. Every miss yields the same
// ErrNotFound regardless of method.
func (s *Service) Resolve(ctx context.Context, method Method, input string) (rec *Record, err error) {
	ctx, span := tracer.Start(ctx, "attendance.Resolve", trace.WithAttributes(attribute.String("rsvp.method", string(method))))
	defer func() {
		endSpan(span, err)
		s.metrics.Lookup(string(method), outcome(err))
	}()

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrMissingFields.With("lookup value is required")
	}

	switch method {
	case MethodCode:
		rec, err = s.store.FindByCode(ctx, input)
	case MethodPhone:
		rec, err = s.store.FindByPhone(ctx, NormalizePhone(input))
	case MethodCredential:
		payload, derr := credential.Decode(input)
		if derr != nil {
			return nil, derr
		}
		rec, err = s.store.FindByCode(ctx, payload.ConfirmationCode)
	default:
		return nil, ErrInvalidInput.With("unknown lookup method")
	}
	if err != nil {
		return nil, storeErr("lookup rsvp", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// CheckIn moves a confirmed record to checked-in. The transition is a single
// conditional update; when it does not apply, a fresh read explains why.
// An id that is not a UUID is rejected with ErrInvalidInput before any lookup.
func (s *Service) CheckIn(ctx context.Context, id string) (res CheckedIn, err error) {
	ctx, span := tracer.Start(ctx, "attendance.CheckIn", trace.WithAttributes(attribute.String("rsvp.id", id)))
	defer func() {
		endSpan(span, err)
		s.metrics.CheckIn(outcome(err))
	}()

	if _, perr := uuid.Parse(id); perr != nil {
		return CheckedIn{}, ErrInvalidInput.With("invalid id format")
	}

	at := s.now().UTC()
	applied, err := s.store.MarkAttended(ctx, id, at)
	if err != nil {
		return CheckedIn{}, storeErr("mark attended", err)
	}
	if !applied {
		rec, err := s.store.FindByID(ctx, id)
		switch {
		case err != nil:
			return CheckedIn{}, storeErr("find rsvp", err)
		case rec == nil:
			return CheckedIn{}, ErrNotFound
		case rec.Attended:
			return CheckedIn{}, ErrAlreadyCheckedIn
		case !rec.Attending:
			return CheckedIn{}, ErrNotAttending
		default:
			return CheckedIn{}, apperr.New(apperr.KindInternal, apperr.CodeStoreUnavailable, "check-in was not applied")
		}
	}

	res = CheckedIn{ID: id, AttendedAt: at}
	s.bus.Publish(ctx, broadcast.GuestCheckedIn, res)
	s.log.Info().Str("rsvp_id", id).Time("attended_at", at).Msg("guest checked in")
	return res, nil
}

// Stats returns the dashboard counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, storeErr("stats", err)
	}
	return st, nil
}

// List returns all records for a dashboard's initial load.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, storeErr("list rsvps", err)
	}
	return recs, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func parseMeals(raw []string) ([]MealPreference, error) {
	seen := make(map[MealPreference]bool, len(raw))
	meals := make([]MealPreference, 0, len(raw))
	for _, r := range raw {
		m, ok := ParseMealPreference(r)
		if !ok {
			return nil, ErrInvalidInput.With("unknown meal preference " + strconv.Quote(r))
		}
		if !seen[m] {
			seen[m] = true
			meals = append(meals, m)
		}
	}
	return meals, nil
}

func normalizeFamily(count int, members []string) (int, []string, error) {
	if count == 0 {
		count = 1
	}
	if count < 1 {
		return 0, nil, ErrInvalidInput.With("family count must be at least 1")
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" {
			return 0, nil, ErrInvalidInput.With("family member names must not be blank")
		}
		names = append(names, m)
	}
	if len(names) != count-1 {
		return 0, nil, ErrInvalidInput.With("family members must list " + strconv.Itoa(count-1) + " name(s)")
	}
	return count, names, nil
}

// storeErr passes domain errors through and wraps everything else as a
// dependency failure.
func storeErr(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Dependency(op, err)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if ae, ok := apperr.As(err); ok && ae.Code != "" {
		return string(ae.Code)
	}
	return string(apperr.KindOf(err))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
