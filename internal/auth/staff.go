package auth

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"rsvp/internal/apperr"
)

var ErrUnauthorized = apperr.New(apperr.KindAuth, apperr.CodeUnauthorized, "staff authentication required")

// Authenticator exchanges the shared desk PIN for session tokens. With no PIN
// hash configured it is disabled and staff routes are open.
type Authenticator struct {
	pinHash []byte
	key     string
	issuer  string
	ttl     time.Duration
	now     func() time.Time
}

func NewAuthenticator(pinHash, signingKey, issuer string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{
		pinHash: []byte(pinHash),
		key:     signingKey,
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Enabled reports whether a PIN hash is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.pinHash) > 0
}

// Login checks pin against the configured bcrypt hash and issues a session
// bound to deviceID.
func (a *Authenticator) Login(deviceID, pin string) (Session, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || pin == "" {
		return Session{}, apperr.New(apperr.KindValidation, apperr.CodeMissingFields, "deviceId and pin are required")
	}
	if !a.Enabled() {
		return Session{}, ErrUnauthorized.With("staff login is not configured")
	}
	if err := bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)); err != nil {
		return Session{}, ErrUnauthorized.With("invalid pin")
	}
	return Issue(deviceID, RoleStaff, a.issuer, a.key, a.ttl, a.now())
}

// Verify parses a bearer token issued by Login.
func (a *Authenticator) Verify(tokenStr string) (Claims, error) {
	claims, err := Parse(tokenStr, a.key, a.issuer, a.now())
	if err != nil {
		return Claims{}, apperr.Wrap(apperr.KindAuth, apperr.CodeUnauthorized, "invalid token", err)
	}
	if claims.Role != RoleStaff {
		return Claims{}, ErrUnauthorized.With("token is not a staff session")
	}
	return claims, nil
}

// HashPIN returns a bcrypt hash suitable for STAFF_PIN_HASH.
func HashPIN(pin string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	return string(b), err
}
