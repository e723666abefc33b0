// Package api wires together all HTTP routes for the Keepsake backend.
//
// Route grouping philosophy:
//   - Onboarding and link exchange (/api/onboard, /api/token/exchange, /t/:token)
//     are unauthenticated: the storyteller arriving from an emailed link has no
//     credentials yet, and the exchange itself is what mints the session. These
//     routes sit behind the strictest rate limiter since the token is the only
//     thing standing between the internet and a project.
//   - Everything under the authenticated /api group requires a valid session
//     cookie. Handlers never take a project ID from the client; it always comes
//     from the verified session, so one storyteller can never touch another's
//     recordings or drafts.
package api

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/keepsake-app/keepsake/internal/ai"
	"github.com/keepsake-app/keepsake/internal/api/drafts"
	"github.com/keepsake-app/keepsake/internal/api/export"
	"github.com/keepsake-app/keepsake/internal/api/projects"
	"github.com/keepsake-app/keepsake/internal/api/recordings"
	"github.com/keepsake-app/keepsake/internal/api/transcripts"
	"github.com/keepsake-app/keepsake/internal/auth"
	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/jobs"
	"github.com/keepsake-app/keepsake/internal/middleware"
	"github.com/keepsake-app/keepsake/internal/pdf"
	"github.com/keepsake-app/keepsake/internal/storage"
	"github.com/keepsake-app/keepsake/internal/token"

	// Import storage backends to register them
	_ "github.com/keepsake-app/keepsake/internal/storage/gcs"
	_ "github.com/keepsake-app/keepsake/internal/storage/local"
	_ "github.com/keepsake-app/keepsake/internal/storage/s3"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	sweeper        *jobs.RetentionSweeper
	memoryLimiters []*middleware.MemoryLimiter
	redisClient    *redis.Client
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	for _, ml := range bg.memoryLimiters {
		ml.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize storage backend
	blob, err := storage.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Initialize repositories
	projectRepo := repositories.NewProjectRepository(db)
	recordingRepo := repositories.NewRecordingRepository(db)
	transcriptRepo := repositories.NewTranscriptRepository(db)

	// Wrap *sql.DB with sqlx for the outline, draft and event repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	outlineRepo := repositories.NewOutlineRepository(sqlxDB)
	draftRepo := repositories.NewDraftRepository(sqlxDB)
	eventRepo := repositories.NewEventRepository(sqlxDB)

	// Session manager signs and verifies the session credential minted on a
	// successful link exchange. A missing secret is a startup failure, not a
	// per-request one.
	sessions, err := auth.NewSessionManager(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
	if err != nil {
		log.Fatalf("Failed to initialize session manager: %v", err)
	}

	tokenService := token.NewService(projectRepo, sessions, cfg.Auth.RetentionDays)

	aiClient, err := ai.NewClient(&cfg.AI)
	if err != nil {
		log.Fatalf("Failed to initialize AI client: %v", err)
	}

	renderer := pdf.NewRenderer()

	// Start the retention sweeper when enabled; it purges delete_pending and
	// expired projects together with their stored audio and PDFs.
	var sweeper *jobs.RetentionSweeper
	if cfg.Retention.Enabled {
		sweeper = jobs.NewRetentionSweeper(projectRepo, recordingRepo, blob, cfg)
		sweeper.Start(context.Background())
		log.Printf("Retention sweeper started (interval %s)", cfg.Retention.SweepInterval)
	}

	// Initialize handlers
	projectHandlers := projects.NewHandlers(tokenService, projectRepo, eventRepo, cfg)
	recordingHandlers := recordings.NewHandlers(recordingRepo, projectRepo, blob, cfg)
	transcriptHandlers := transcripts.NewHandlers(recordingRepo, transcriptRepo, projectRepo, blob, aiClient)
	draftHandlers := drafts.NewHandlers(recordingRepo, transcriptRepo, outlineRepo, draftRepo, projectRepo, aiClient, cfg)
	exportHandlers := export.NewHandlers(recordingRepo, outlineRepo, draftRepo, projectRepo, blob, renderer, cfg)

	// Initialize rate limiters. With a Redis address configured the limiters
	// are shared across instances; otherwise each instance keeps its own
	// in-process token buckets.
	var redisClient *redis.Client
	if rl := cfg.Security.RateLimiting; rl.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     rl.RedisAddr,
			Password: rl.RedisPassword,
			DB:       rl.RedisDB,
		})
	}

	var memoryLimiters []*middleware.MemoryLimiter
	newLimiter := func(prefix string, limitCfg middleware.RateLimitConfig) middleware.Limiter {
		if redisClient != nil {
			return middleware.NewRedisLimiter(redisClient, prefix, limitCfg)
		}
		ml := middleware.NewMemoryLimiter(limitCfg)
		memoryLimiters = append(memoryLimiters, ml)
		return ml
	}

	generalCfg := middleware.DefaultRateLimitConfig()
	if rl := cfg.Security.RateLimiting; rl.RequestsPerMinute > 0 {
		generalCfg.RequestsPerMinute = rl.RequestsPerMinute
		if rl.Burst > 0 {
			generalCfg.BurstSize = rl.Burst
		}
	}
	exchangeCfg := middleware.ExchangeRateLimitConfig()
	uploadCfg := middleware.UploadRateLimitConfig()

	generalLimiter := newLimiter("general", generalCfg)
	exchangeLimiter := newLimiter("exchange", exchangeCfg)
	uploadLimiter := newLimiter("upload", uploadCfg)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(db, blob))

	// API version
	router.GET("/version", versionHandler())

	// The shareable link itself. The recorder page carries a relaxed CSP so
	// the browser can capture and play back audio.
	linkGroup := router.Group("/t")
	linkGroup.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()))
	linkGroup.Use(middleware.RateLimit(exchangeLimiter, exchangeCfg))
	{
		linkGroup.GET("/:token", projectHandlers.ExchangeRedirect)
	}

	apiGroup := router.Group("/api")
	{
		// Public endpoints (no session yet, but rate limited)
		apiGroup.POST("/onboard",
			middleware.RateLimit(generalLimiter, generalCfg),
			projectHandlers.Onboard)
		apiGroup.POST("/token/exchange",
			middleware.RateLimit(exchangeLimiter, exchangeCfg),
			projectHandlers.Exchange)

		// Session-authenticated endpoints
		authenticated := apiGroup.Group("")
		authenticated.Use(middleware.SessionAuth(sessions, cfg.Auth.CookieName))
		authenticated.Use(middleware.RateLimit(generalLimiter, generalCfg))
		{
			authenticated.GET("/session/current", transcriptHandlers.SessionCurrent)

			// Audio upload - stricter rate limit for uploads
			authenticated.POST("/upload-init",
				middleware.RateLimit(uploadLimiter, uploadCfg),
				recordingHandlers.UploadInit)
			authenticated.POST("/upload-complete", recordingHandlers.UploadComplete)
			authenticated.POST("/upload-audio",
				middleware.RateLimit(uploadLimiter, uploadCfg),
				recordingHandlers.UploadAudio)

			authenticated.POST("/transcribe", transcriptHandlers.Transcribe)
			authenticated.GET("/transcript", transcriptHandlers.GetTranscript)
			authenticated.PATCH("/transcript", transcriptHandlers.UpdateTranscript)

			authenticated.POST("/outline", draftHandlers.GenerateOutline)
			authenticated.GET("/outline", draftHandlers.GetOutline)
			authenticated.PATCH("/outline", draftHandlers.ApproveOutline)

			authenticated.GET("/draft", draftHandlers.ListDrafts)
			authenticated.POST("/draft", draftHandlers.GenerateDraft)
			authenticated.PATCH("/draft", draftHandlers.UpdateDraft)

			authenticated.POST("/export", exportHandlers.Export)

			authenticated.POST("/feedback", projectHandlers.Feedback)
			authenticated.POST("/project/delete", projectHandlers.Delete)
		}
	}

	bg := &BackgroundServices{
		sweeper:        sweeper,
		memoryLimiters: memoryLimiters,
		redisClient:    redisClient,
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a readiness gate fails when uploads/downloads would error.
func readinessHandler(db *sql.DB, blob storage.Blob) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Check storage backend — probe with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if _, err := blob.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
