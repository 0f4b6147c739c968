package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Host     string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"SERVER_HTTP_PORT" default:"8080"`

	Environment string `envconfig:"SERVER_ENV" default:"development"`

	// Timeouts
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Analysis backend
	AnalyserBaseURL       string        `envconfig:"ANALYSER_BASE_URL" default:"http://localhost:8000"`
	AnalyserUploadTimeout time.Duration `envconfig:"ANALYSER_UPLOAD_TIMEOUT" default:"60s"`
	AnalyserResultTimeout time.Duration `envconfig:"ANALYSER_RESULT_TIMEOUT" default:"5m"`
	FailedRetention       time.Duration `envconfig:"ANALYSIS_FAILED_RETENTION" default:"10m"`
	MaxUploadBytes        int64         `envconfig:"ANALYSIS_MAX_UPLOAD_BYTES" default:"26214400"`
	MaxWaitTimeout        time.Duration `envconfig:"ANALYSIS_MAX_WAIT" default:"10s"`

	// Recording
	RecordMaxDuration time.Duration `envconfig:"RECORD_MAX_DURATION" default:"60s"`

	// Redis outcome relay
	RedisURL        string        `envconfig:"REDIS_URL"`
	RedisOutcomeTTL time.Duration `envconfig:"REDIS_OUTCOME_TTL" default:"60s"`

	// Audio archive: "r2" (Cloudflare, S3 protocol) or "gcs"
	ArchiveBackend string `envconfig:"ARCHIVE_BACKEND" default:"r2"`
	GCSBucketName  string `envconfig:"GCS_BUCKET_NAME"`

	// Cloudflare R2
	CloudflareAccessKeyID string `envconfig:"CLOUDFLARE_ACCESS_KEY_ID"`
	CloudflareSecretKey   string `envconfig:"CLOUDFLARE_SECRET_ACCESS_KEY"`
	CloudflareR2Endpoint  string `envconfig:"CLOUDFLARE_R2_ENDPOINT"`
	CloudflarePublicURL   string `envconfig:"CLOUDFLARE_PUBLIC_URL"`
	CloudflareBucketName  string `envconfig:"CLOUDFLARE_BUCKET_NAME"`

	// Postgres analysis journal
	DatabaseURL         string `envconfig:"DATABASE_URL"`
	DatabaseAutoMigrate bool   `envconfig:"DATABASE_AUTO_MIGRATE" default:"true"`
	DatabaseMaxConns    int32  `envconfig:"DATABASE_MAX_CONNS" default:"4"`

	// Pub/Sub history events
	PubSubProjectID string `envconfig:"PUBSUB_PROJECT_ID"`
	PubSubTopicID   string `envconfig:"PUBSUB_TOPIC_ID" default:"voicecoach-history"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Accept,Content-Type,X-Request-ID"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	u, err := url.Parse(c.AnalyserBaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid ANALYSER_BASE_URL %q", c.AnalyserBaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ANALYSER_BASE_URL must be http or https, got %q", u.Scheme)
	}
	if c.AnalyserResultTimeout <= 0 {
		return fmt.Errorf("ANALYSER_RESULT_TIMEOUT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("ANALYSIS_MAX_UPLOAD_BYTES must be positive")
	}
	if c.WriteTimeout > 0 && c.MaxWaitTimeout >= c.WriteTimeout {
		return fmt.Errorf("ANALYSIS_MAX_WAIT (%s) must be shorter than SERVER_WRITE_TIMEOUT (%s)", c.MaxWaitTimeout, c.WriteTimeout)
	}
	if c.RecordMaxDuration <= 0 {
		return fmt.Errorf("RECORD_MAX_DURATION must be positive")
	}
	switch c.ArchiveBackend {
	case "", ArchiveR2, ArchiveGCS:
	default:
		return fmt.Errorf("ARCHIVE_BACKEND must be %q or %q, got %q", ArchiveR2, ArchiveGCS, c.ArchiveBackend)
	}
	return nil
}

// HTTPAddress returns the HTTP server address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Archive backends
const (
	ArchiveR2  = "r2"
	ArchiveGCS = "gcs"
)

// ArchiveEnabled reports whether the selected archive backend is fully configured.
func (c *Config) ArchiveEnabled() bool {
	if c.ArchiveBackend == ArchiveGCS {
		return c.GCSBucketName != ""
	}
	return c.CloudflareAccessKeyID != "" && c.CloudflareSecretKey != "" &&
		c.CloudflareR2Endpoint != "" && c.CloudflareBucketName != ""
}

// JournalEnabled reports whether the Postgres journal is configured.
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != ""
}

// EventsEnabled reports whether history events are published to Pub/Sub.
func (c *Config) EventsEnabled() bool {
	return c.PubSubProjectID != "" && c.PubSubTopicID != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
