package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keepsake-app/keepsake/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "0123456789abcdef0123456789abcdef"

func newSessionManager(t *testing.T, ttl time.Duration) *auth.SessionManager {
	t.Helper()
	sm, err := auth.NewSessionManager(testSecret, ttl)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	return sm
}

// ---------------------------------------------------------------------------
// SessionAuth
// ---------------------------------------------------------------------------

func newAuthRouter(sm *auth.SessionManager) *gin.Engine {
	r := gin.New()
	r.Use(SessionAuth(sm, "kp_session"))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"project_id": ProjectID(c)})
	})
	return r
}

func TestSessionAuth_ValidCookie(t *testing.T) {
	sm := newSessionManager(t, time.Hour)
	credential, err := sm.Mint("proj-42")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "kp_session", Value: credential})
	w := httptest.NewRecorder()
	newAuthRouter(sm).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSessionAuth_MissingCookie(t *testing.T) {
	sm := newSessionManager(t, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	newAuthRouter(sm).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSessionAuth_TamperedCredential(t *testing.T) {
	sm := newSessionManager(t, time.Hour)
	credential, err := sm.Mint("proj-42")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	tampered := credential[:len(credential)-2] + "xx"

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "kp_session", Value: tampered})
	w := httptest.NewRecorder()
	newAuthRouter(sm).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSessionAuth_ExpiredCredential(t *testing.T) {
	sm := newSessionManager(t, time.Millisecond)
	credential, err := sm.Mint("proj-42")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "kp_session", Value: credential})
	w := httptest.NewRecorder()
	newAuthRouter(sm).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RequestID
// ---------------------------------------------------------------------------

func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	newRequestIDRouter().ServeHTTP(w, req)

	id := w.Header().Get(RequestIDHeader)
	if len(id) != 36 {
		t.Errorf("expected UUID-format request ID, got %q", id)
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-001")
	w := httptest.NewRecorder()
	newRequestIDRouter().ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "upstream-id-001" {
		t.Errorf("expected upstream ID to be reused, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// SecurityHeaders
// ---------------------------------------------------------------------------

func TestSecurityHeaders_InterviewSurface(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(DefaultSecurityHeadersConfig()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Permissions-Policy"); got != "geolocation=(), microphone=(self), camera=()" {
		t.Errorf("recorder page must keep microphone available, got %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS header")
	}
}

func TestSecurityHeaders_PresentOnErrors(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(APISecurityHeadersConfig()))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("security headers must be present on error responses")
	}
}

// ---------------------------------------------------------------------------
// RateLimit with MemoryLimiter
// ---------------------------------------------------------------------------

func newLimitedRouter(cfg RateLimitConfig) (*gin.Engine, *MemoryLimiter) {
	limiter := NewMemoryLimiter(cfg)
	r := gin.New()
	r.Use(RateLimit(limiter, cfg))
	r.POST("/exchange", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, limiter
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 6, BurstSize: 3, CleanupInterval: time.Minute}
	r, limiter := newLimitedRouter(cfg)
	defer limiter.Stop()

	var last int
	for i := 0; i < cfg.BurstSize+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/exchange", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		last = w.Code
		if i < cfg.BurstSize && w.Code != http.StatusOK {
			t.Fatalf("request %d within burst rejected with %d", i, w.Code)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst exhausted, got %d", last)
	}
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 6, BurstSize: 1, CleanupInterval: time.Minute}
	r, limiter := newLimitedRouter(cfg)
	defer limiter.Stop()

	for _, addr := range []string{"198.51.100.1:1", "198.51.100.2:1"} {
		req := httptest.NewRequest(http.MethodPost, "/exchange", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("first request from %s should pass, got %d", addr, w.Code)
		}
	}
}

func TestRateLimit_SetsHeaders(t *testing.T) {
	cfg := ExchangeRateLimitConfig()
	r, limiter := newLimitedRouter(cfg)
	defer limiter.Stop()

	req := httptest.NewRequest(http.MethodPost, "/exchange", nil)
	req.RemoteAddr = "203.0.113.1:9999"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get("X-RateLimit-Limit") == "" || w.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("expected rate limit headers on allowed response")
	}
}
