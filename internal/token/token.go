// Package token issues and verifies the bearer token handed to a guest when
// their registration is accepted. Tokens are HS256 JWTs: a base64 header and
// claims segment followed by an HMAC-SHA256 tag over both, keyed with a
// process-wide secret.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rsvp/internal/apperr"
)

// DefaultTTL applies when Issue is called without a positive ttl.
const DefaultTTL = time.Hour

var (
	ErrBadSignature = apperr.New(apperr.KindCredential, apperr.CodeBadSignature, "token signature mismatch")
	ErrExpired      = apperr.New(apperr.KindCredential, apperr.CodeExpired, "token expired")
	ErrMalformed    = apperr.New(apperr.KindCredential, apperr.CodeMalformed, "token malformed")
)

// Claims identifies an accepted registration.
type Claims struct {
	RecordID         string `json:"id"`
	ConfirmationCode string `json:"confirmationCode"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens. The secret is fixed at construction.
type Service struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// New builds a Service around secret. The slice is copied.
func New(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	s := &Service{secret: append([]byte(nil), secret...), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateSecret returns 32 random bytes for processes started without a
// configured secret.
func GenerateSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	return b, nil
}

// Issue signs claims with an expiry of now+ttl. The exp claim has whole
// second precision, so the expiry is rounded up and the token never lapses
// before ttl has passed.
func (s *Service) Issue(claims Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   claims.RecordID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry(now, ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if t := exp.Truncate(time.Second); t.Before(exp) {
		exp = t.Add(time.Second)
	}
	return exp
}

// Verify checks the signature and expiry of tokenStr and returns its claims.
func (s *Service) Verify(tokenStr string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Claims{}, apperr.Wrap(ErrMalformed.Kind, ErrMalformed.Code, ErrMalformed.Message, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Claims{}, ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpired
	default:
		return Claims{}, apperr.Wrap(ErrMalformed.Kind, ErrMalformed.Code, ErrMalformed.Message, err)
	}
}
