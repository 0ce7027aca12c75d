package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "jobbridge"
	bearerPrefix         = "Bearer "
	clockSkewLeeway      = 30 * time.Second
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
	ErrInvalidSessionRole       = errors.New("session validator: unknown role")
)

// SessionClaims is the JWT payload carried by marketplace session tokens.
// Role holds one of the account roles (admin, recruiter, institute, staff).
type SessionClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts the claims into the caller identity used by the services.
func (c SessionClaims) Identity() (users.Identity, error) {
	role, ok := users.ParseRole(c.Role)
	if !ok {
		return users.Identity{}, ErrInvalidSessionRole
	}
	return users.Identity{UserID: strings.TrimSpace(c.UserID), Role: role}, nil
}

// SessionValidatorConfig describes how to validate session JWTs.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator validates HS256 session JWTs from a bearer header or cookie.
type SessionValidator struct {
	signingSecret []byte
	cookieName    string
	parser        *jwt.Parser
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		cookieName:    cookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkewLeeway),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken checks signature, issuer, and expiry, then requires a subject
// and a known role so downstream handlers never see a partial identity.
func (v *SessionValidator) ValidateToken(raw string) (SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	var claims SessionClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, v.key); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return SessionClaims{}, ErrExpiredSessionToken
		default:
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
		}
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" || subject != strings.TrimSpace(claims.UserID) {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	if _, ok := users.ParseRole(claims.Role); !ok {
		return SessionClaims{}, ErrInvalidSessionRole
	}
	return claims, nil
}

func (v *SessionValidator) key(*jwt.Token) (any, error) {
	return v.signingSecret, nil
}

// ValidateRequest reads the token from the Authorization header, falling back
// to the configured cookie.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(cookie.Value)
}
