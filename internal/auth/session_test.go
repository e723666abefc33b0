package auth

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-0123456789abcdef0123456789"

func newTestManager(t *testing.T, ttl time.Duration) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(testSecret, ttl)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	return m
}

func TestNewSessionManager_RejectsEmptySecret(t *testing.T) {
	if _, err := NewSessionManager("", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestNewSessionManager_RejectsNonPositiveTTL(t *testing.T) {
	if _, err := NewSessionManager(testSecret, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestSession_RoundTrip(t *testing.T) {
	m := newTestManager(t, 14*24*time.Hour)

	credential, err := m.Mint("proj-42")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := m.Verify(credential)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims == nil {
		t.Fatal("expected claims, got nil")
	}
	if claims.ProjectID != "proj-42" {
		t.Errorf("expected proj-42, got %s", claims.ProjectID)
	}
}

func TestSession_ExpiredCredentialIsNoSession(t *testing.T) {
	m := newTestManager(t, time.Millisecond)

	credential, err := m.Mint("proj-42")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	claims, err := m.Verify(credential)
	if err != nil {
		t.Fatalf("Verify returned error, want nil result: %v", err)
	}
	if claims != nil {
		t.Errorf("expected nil claims for expired credential, got %+v", claims)
	}
}

func TestSession_TamperedCredentialRejected(t *testing.T) {
	m := newTestManager(t, time.Hour)

	credential, err := m.Mint("proj-42")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Flip one byte in each JWT part in turn; all variants must verify to nil.
	for i := 0; i < len(credential); i++ {
		if credential[i] == '.' {
			continue
		}
		tampered := []byte(credential)
		if tampered[i] == 'A' {
			tampered[i] = 'B'
		} else {
			tampered[i] = 'A'
		}
		if string(tampered) == credential {
			continue
		}
		claims, err := m.Verify(string(tampered))
		if err != nil {
			t.Fatalf("Verify returned error, want nil result: %v", err)
		}
		if claims != nil {
			t.Fatalf("tampered credential at byte %d was accepted", i)
		}
	}
}

func TestSession_WrongSecretRejected(t *testing.T) {
	m := newTestManager(t, time.Hour)
	other, err := NewSessionManager(strings.Repeat("x", 40), time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}

	credential, err := m.Mint("proj-42")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, _ := other.Verify(credential)
	if claims != nil {
		t.Error("credential signed with a different secret was accepted")
	}
}

func TestSession_GarbageInputIsNoSession(t *testing.T) {
	m := newTestManager(t, time.Hour)

	for _, input := range []string{"", "not-a-jwt", "a.b.c", strings.Repeat(".", 10)} {
		claims, err := m.Verify(input)
		if err != nil {
			t.Fatalf("Verify(%q) returned error: %v", input, err)
		}
		if claims != nil {
			t.Errorf("Verify(%q) accepted garbage input", input)
		}
	}
}
