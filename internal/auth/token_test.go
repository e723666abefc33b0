package auth

import (
	"encoding/base64"
	"testing"
)

func TestGenerateProjectToken_Length(t *testing.T) {
	token, err := GenerateProjectToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not valid base64url: %v", err)
	}
	if len(raw) != projectTokenBytes {
		t.Errorf("expected %d random bytes, got %d", projectTokenBytes, len(raw))
	}
}

func TestGenerateProjectToken_URLSafe(t *testing.T) {
	token, err := GenerateProjectToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range token {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			t.Fatalf("token contains non-URL-safe character %q", c)
		}
	}
}

func TestGenerateProjectToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := GenerateProjectToken()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token generated: %s", token)
		}
		seen[token] = true
	}
}
