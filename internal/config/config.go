// Package config loads and validates the Keepsake backend configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the KP_ prefix (e.g., KP_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// The session signing secret has no default and is required for the server to
// start: without it the service could mint credentials it can never verify
// across restarts, which would silently break every outstanding shareable link.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	AI        AIConfig        `mapstructure:"ai"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used when composing shareable
// links. When server.public_url is set it is returned as-is; otherwise it
// falls back to server.base_url. The distinction matters in reverse-proxied
// deployments where the internal listen address differs from the URL the
// project owner actually mails out.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN builds a lib/pq connection string from the individual fields.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	AudioPrefix    string             `mapstructure:"audio_prefix"`
	PDFPrefix      string             `mapstructure:"pdf_prefix"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// S3StorageConfig holds S3-compatible storage configuration (AWS S3, MinIO,
// Supabase Storage's S3 endpoint, DigitalOcean Spaces, ...).
type S3StorageConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// Authentication method: "default" (AWS credential chain) or "static".
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible services that are not AWS itself.
	UsePathStyle bool `mapstructure:"use_path_style"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Endpoint        string `mapstructure:"endpoint"`

	// SignerEmail and SignerPrivateKey are required for signed URLs when not
	// using a service-account key file (e.g. workload identity).
	SignerEmail      string `mapstructure:"signer_email"`
	SignerPrivateKey string `mapstructure:"signer_private_key"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// AuthConfig holds token and session configuration
type AuthConfig struct {
	// SessionSecret signs session JWTs. Required; there is no dev fallback.
	SessionSecret string `mapstructure:"session_secret"`
	// SessionTTL is the lifetime of a minted session credential. The cookie
	// max-age is derived from the same value so credential and transport
	// expire together.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// CookieName is the HTTP cookie carrying the session credential.
	CookieName string `mapstructure:"cookie_name"`
	// CookieSecure controls the Secure flag; disable only for local HTTP.
	CookieSecure bool `mapstructure:"cookie_secure"`
	// RetentionDays governs expires_at at project creation.
	RetentionDays int `mapstructure:"retention_days"`
}

// AIConfig holds the external AI provider configuration
type AIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	TranscribeModel string        `mapstructure:"transcribe_model"`
	OutlineModel    string        `mapstructure:"outline_model"`
	DraftModel      string        `mapstructure:"draft_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// LimitsConfig holds workflow guardrails
type LimitsConfig struct {
	MaxAudioMB        int `mapstructure:"max_audio_mb"`
	MaxAudioSeconds   int `mapstructure:"max_audio_seconds"`
	RegenPerChapter   int `mapstructure:"regen_per_chapter"`
	OutlineInputChars int `mapstructure:"outline_input_chars"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration. When RedisAddr is set
// the limiter is backed by Redis (shared across instances); otherwise an
// in-process token bucket is used.
type RateLimitingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisDB           int    `mapstructure:"redis_db"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// RetentionConfig holds the background retention sweeper configuration
type RetentionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// PurgeAfter is how long a delete_pending project is kept before its
	// rows and stored files are removed for good.
	PurgeAfter time.Duration `mapstructure:"purge_after"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/keepsake")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply.
	}

	v.SetEnvPrefix("KP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures.
	// AutomaticEnv() alone does not cooperate with Unmarshal().
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${ENV_VAR} references in sensitive fields so secrets can be
	// injected by tooling that only knows generic names.
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Auth.SessionSecret = expandEnv(cfg.Auth.SessionSecret)
	cfg.AI.APIKey = expandEnv(cfg.AI.APIKey)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Security.RateLimiting.RedisPassword = expandEnv(cfg.Security.RateLimiting.RedisPassword)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for fatal problems. A missing session
// secret is a startup-time error, never a silently degraded runtime state.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret is required (set KP_AUTH_SESSION_SECRET; generate one with: openssl rand -hex 32)")
	}
	if len(c.Auth.SessionSecret) < 32 {
		return fmt.Errorf("auth.session_secret must be at least 32 characters")
	}
	if c.Auth.RetentionDays <= 0 {
		return fmt.Errorf("auth.retention_days must be positive, got %d", c.Auth.RetentionDays)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	switch c.Storage.DefaultBackend {
	case "local", "s3", "gcs":
	default:
		return fmt.Errorf("storage.default_backend must be 'local', 's3', or 'gcs', got %q", c.Storage.DefaultBackend)
	}
	if c.Limits.MaxAudioMB <= 0 {
		return fmt.Errorf("limits.max_audio_mb must be positive")
	}
	if c.Limits.RegenPerChapter < 0 {
		return fmt.Errorf("limits.regen_per_chapter must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "keepsake")
	v.SetDefault("database.user", "keepsake")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.audio_prefix", "audio")
	v.SetDefault("storage.pdf_prefix", "pdfs")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.s3.region", "us-east-1")

	// Auth defaults. 14-day sessions; 365-day project retention.
	v.SetDefault("auth.session_ttl", "336h")
	v.SetDefault("auth.cookie_name", "kp_session")
	v.SetDefault("auth.cookie_secure", true)
	v.SetDefault("auth.retention_days", 365)

	// AI defaults
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.transcribe_model", "whisper-1")
	v.SetDefault("ai.outline_model", "gpt-4o-mini")
	v.SetDefault("ai.draft_model", "gpt-4o")
	v.SetDefault("ai.timeout", "120s")

	// Workflow limits
	v.SetDefault("limits.max_audio_mb", 200)
	v.SetDefault("limits.max_audio_seconds", 1800)
	v.SetDefault("limits.regen_per_chapter", 2)
	v.SetDefault("limits.outline_input_chars", 120000)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 10)
	v.SetDefault("security.rate_limiting.burst", 5)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9090)

	// Retention sweeper defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.sweep_interval", "1h")
	v.SetDefault("retention.purge_after", "720h")
}

func bindEnvVars(v *viper.Viper) {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Storage
		"storage.default_backend",
		"storage.audio_prefix",
		"storage.pdf_prefix",
		"storage.local.base_path",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.use_path_style",
		"storage.gcs.bucket",
		"storage.gcs.project_id",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.gcs.signer_email",
		"storage.gcs.signer_private_key",

		// Auth
		"auth.session_secret",
		"auth.session_ttl",
		"auth.cookie_name",
		"auth.cookie_secure",
		"auth.retention_days",

		// AI
		"ai.api_key",
		"ai.base_url",
		"ai.transcribe_model",
		"ai.outline_model",
		"ai.draft_model",
		"ai.timeout",

		// Limits
		"limits.max_audio_mb",
		"limits.max_audio_seconds",
		"limits.regen_per_chapter",
		"limits.outline_input_chars",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.redis_addr",
		"security.rate_limiting.redis_password",
		"security.rate_limiting.redis_db",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.prometheus_port",

		// Retention
		"retention.enabled",
		"retention.sweep_interval",
		"retention.purge_after",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

var envRefPattern = regexp.MustCompile(`^\$\{(\w+)\}$`)

// expandEnv resolves values of the form ${NAME} against the process
// environment. Literal values pass through unchanged.
func expandEnv(value string) string {
	if m := envRefPattern.FindStringSubmatch(value); m != nil {
		return os.Getenv(m[1])
	}
	return value
}
