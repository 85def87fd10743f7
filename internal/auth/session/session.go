// Package session issues and verifies the HS256 tokens that identify a
// signed-in user, and the short-lived state tokens of the OAuth connect flow.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pysugar/metric-garden/internal/errs"
)

// SessionTTL is how long a session token stays valid.
const SessionTTL = 7 * 24 * time.Hour

const stateAudience = "oauth-state"

var (
	ErrInvalidSession = fmt.Errorf("%w: invalid session", errs.ErrAuth)
	ErrInvalidState   = fmt.Errorf("%w: invalid oauth state", errs.ErrValidation)
)

// Claims is the payload of a session token. The user ID is the subject.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session and state tokens with one shared secret.
type Manager struct {
	secret   []byte
	issuer   string
	stateTTL time.Duration
	now      func() time.Time
}

// NewManager creates a manager. stateTTL bounds how long a user may sit on
// the provider consent page.
func NewManager(secret, issuer string, stateTTL time.Duration) *Manager {
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		stateTTL: stateTTL,
		now:      time.Now,
	}
}

// Issue creates a session token for userID.
func (m *Manager) Issue(userID, email, username string) (string, error) {
	now := m.now()
	claims := &Claims{
		Email:    email,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID,
		},
	}
	return m.sign(claims)
}

// Verify validates a session token and returns its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	for _, aud := range claims.Audience {
		if aud == stateAudience {
			return nil, fmt.Errorf("%w: state token used as session", ErrInvalidSession)
		}
	}
	return claims, nil
}

// IssueState creates the CSRF state of an OAuth connect flow, bound to userID.
func (m *Manager) IssueState(userID string) (string, error) {
	now := m.now()
	claims := &jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(m.stateTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    m.issuer,
		Subject:   userID,
		Audience:  jwt.ClaimStrings{stateAudience},
	}
	return m.sign(claims)
}

// VerifyState checks that state was issued by IssueState for userID and has
// not expired.
func (m *Manager) VerifyState(state, userID string) error {
	claims := &jwt.RegisteredClaims{}
	if err := m.parse(state, claims, jwt.WithAudience(stateAudience)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Subject != userID {
		return fmt.Errorf("%w: issued for another user", ErrInvalidState)
	}
	return nil
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

type contextKey string

const userIDKey contextKey = "userId"

// WithUserID stores the authenticated user in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user stored in ctx.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
