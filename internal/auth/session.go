// session.go implements minting and verification of the signed session
// credential issued at token exchange and carried in the kp_session cookie.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the JWT claims structure of a session credential. The
// project identifier is the only identity assertion carried.
type SessionClaims struct {
	ProjectID string `json:"project_id"`
	jwt.RegisteredClaims
}

// SessionManager mints and verifies session credentials. The signing secret
// is injected at construction rather than read from ambient environment state
// so both code paths provably share one key and tests can supply their own.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionManager creates a SessionManager. The secret must already have
// been validated at configuration load; an empty secret here is a programmer
// error, not a runtime condition.
func NewSessionManager(secret string, ttl time.Duration) (*SessionManager, error) {
	if secret == "" {
		return nil, errors.New("session secret must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &SessionManager{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the configured credential lifetime. The cookie max-age is
// derived from the same value so credential and transport expire together.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Mint creates a signed session credential asserting access to projectID.
func (m *SessionManager) Mint(projectID string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		ProjectID: projectID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "keepsake",
			Subject:   projectID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a session credential. Any failure — bad
// signature, malformed structure, expiry — yields (nil, nil): callers treat
// the absence of a valid session uniformly as "unauthenticated" and must not
// be able to distinguish the causes.
func (m *SessionManager) Verify(credential string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(credential, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, nil
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.ProjectID == "" {
		return nil, nil
	}
	return claims, nil
}
