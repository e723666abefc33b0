// ratelimit.go provides Gin middleware that enforces per-client rate limits,
// returning 429 responses when the configured requests-per-minute threshold
// is exceeded.
//
// Two limiter implementations share the Limiter interface: a Redis-backed
// GCRA limiter for multi-instance deployments, and an in-process token bucket
// for single-instance and test setups. The middleware does not care which one
// it is handed.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often the in-memory limiter evicts idle entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns limits for authenticated API traffic.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// ExchangeRateLimitConfig returns the strict limits applied to the token
// exchange endpoints. Exchange is unauthenticated and keyed by client IP, and
// the limit is the only thing standing between an attacker and free-running
// token guessing.
func ExchangeRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig returns limits for the audio upload endpoints. An
// interview session produces at most a handful of recordings per minute.
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter decides whether a request from the given key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
}

// ---------------------------------------------------------------------------
// In-memory token bucket
// ---------------------------------------------------------------------------

type bucketEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter implements a per-key token bucket held in process memory.
// Limits are per instance, which is fine for the single-binary deployment
// this service usually runs as.
type MemoryLimiter struct {
	config  RateLimitConfig
	entries map[string]*bucketEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewMemoryLimiter creates an in-memory limiter and starts its eviction loop.
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	ml := &MemoryLimiter{
		config:  config,
		entries: make(map[string]*bucketEntry),
		stopCh:  make(chan struct{}),
	}
	go ml.cleanup()
	return ml
}

func (ml *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(ml.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.mu.Lock()
			now := time.Now()
			for key, entry := range ml.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(ml.entries, key)
				}
			}
			ml.mu.Unlock()
		case <-ml.stopCh:
			return
		}
	}
}

// Stop stops the eviction goroutine.
func (ml *MemoryLimiter) Stop() {
	close(ml.stopCh)
}

// Allow implements Limiter.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	entry, exists := ml.entries[key]
	if !exists {
		ml.entries[key] = &bucketEntry{
			tokens:     float64(ml.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, ml.config.BurstSize - 1, nil
	}

	elapsed := now.Sub(entry.lastUpdate)
	refill := elapsed.Seconds() * float64(ml.config.RequestsPerMinute) / 60.0
	entry.tokens = min(float64(ml.config.BurstSize), entry.tokens+refill)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, int(entry.tokens), nil
	}
	return false, 0, nil
}

// ---------------------------------------------------------------------------
// Redis-backed limiter
// ---------------------------------------------------------------------------

// RedisLimiter enforces limits via redis_rate's GCRA implementation so that
// all instances behind a load balancer share one budget per key.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	config  RateLimitConfig
	prefix  string
}

// NewRedisLimiter creates a limiter backed by the given Redis client. The
// prefix namespaces keys so several limiter configs can share one Redis.
func NewRedisLimiter(client *redis.Client, prefix string, config RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		config:  config,
		prefix:  prefix,
	}
}

// Allow implements Limiter. Redis unavailability fails open: a degraded cache
// must not take the whole service down with it.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	limit := redis_rate.Limit{
		Rate:   rl.config.RequestsPerMinute,
		Burst:  rl.config.BurstSize,
		Period: time.Minute,
	}
	res, err := rl.limiter.Allow(ctx, rl.prefix+":"+key, limit)
	if err != nil {
		return true, rl.config.BurstSize, nil
	}
	return res.Allowed > 0, res.Remaining, nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimit creates a Gin middleware enforcing the given limiter. Keys prefer
// the authenticated project identity and fall back to client IP, so the
// unauthenticated exchange endpoints end up IP-keyed automatically.
func RateLimit(limiter Limiter, limit RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		allowed, remaining, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if id := ProjectID(c); id != "" {
		return "project:" + id
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
