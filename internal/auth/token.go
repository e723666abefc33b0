// Package auth provides the authentication primitives for the Keepsake
// backend: one-time project token generation and session credential
// minting/verification. The request-time logic that consumes these lives in
// internal/token (exchange) and internal/middleware (session checks).
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// projectTokenBytes is the entropy of a shareable link token. 24 random bytes
// (192 bits) base64url-encode to a 32-character URL-safe string; guessing is
// infeasible at any realistic request rate.
const projectTokenBytes = 24

// GenerateProjectToken creates a new high-entropy one-time bearer token
// suitable for embedding in a shareable URL. Pure generation: no side effects
// beyond consuming entropy.
func GenerateProjectToken() (string, error) {
	b := make([]byte, projectTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
