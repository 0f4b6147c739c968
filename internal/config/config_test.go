package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddress())
	assert.Equal(t, "http://localhost:8000", cfg.AnalyserBaseURL)
	assert.Equal(t, 5*time.Minute, cfg.AnalyserResultTimeout)
	assert.Equal(t, 60*time.Second, cfg.RecordMaxDuration)
	assert.Equal(t, int64(25<<20), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, ArchiveR2, cfg.ArchiveBackend)
	assert.False(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.JournalEnabled())
	assert.False(t, cfg.EventsEnabled())
	assert.True(t, cfg.DatabaseAutoMigrate)
	assert.Equal(t, int32(4), cfg.DatabaseMaxConns)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_HTTP_PORT", "9090")
	t.Setenv("ANALYSER_BASE_URL", "https://analyser.internal:8443")
	t.Setenv("ANALYSER_RESULT_TIMEOUT", "90s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CLOUDFLARE_ACCESS_KEY_ID", "key")
	t.Setenv("CLOUDFLARE_SECRET_ACCESS_KEY", "secret")
	t.Setenv("CLOUDFLARE_R2_ENDPOINT", "https://r2.example")
	t.Setenv("CLOUDFLARE_BUCKET_NAME", "recordings")
	t.Setenv("SERVER_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "https://analyser.internal:8443", cfg.AnalyserBaseURL)
	assert.Equal(t, 90*time.Second, cfg.AnalyserResultTimeout)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.ArchiveEnabled())
	assert.True(t, cfg.IsProduction())
}

func TestLoad_RejectsBadAnalyserURL(t *testing.T) {
	t.Setenv("ANALYSER_BASE_URL", "ftp://analyser")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ANALYSER_BASE_URL", "not a url")
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate_NonPositiveDurations(t *testing.T) {
	cfg := &Config{
		AnalyserBaseURL:       "http://localhost:8000",
		AnalyserResultTimeout: 0,
		MaxUploadBytes:        1,
		RecordMaxDuration:     time.Second,
	}
	assert.Error(t, cfg.Validate())

	cfg.AnalyserResultTimeout = time.Second
	assert.NoError(t, cfg.Validate())

	cfg.RecordMaxDuration = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_WaitMustFitWriteTimeout(t *testing.T) {
	cfg := &Config{
		AnalyserBaseURL:       "http://localhost:8000",
		AnalyserResultTimeout: time.Minute,
		MaxUploadBytes:        1,
		RecordMaxDuration:     time.Second,
		WriteTimeout:          15 * time.Second,
		MaxWaitTimeout:        15 * time.Second,
	}
	assert.Error(t, cfg.Validate())

	cfg.MaxWaitTimeout = 10 * time.Second
	assert.NoError(t, cfg.Validate())
}

func TestArchiveBackendSelection(t *testing.T) {
	t.Setenv("ARCHIVE_BACKEND", "gcs")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.ArchiveEnabled())

	t.Setenv("GCS_BUCKET_NAME", "coach-archive")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.ArchiveEnabled())

	t.Setenv("ARCHIVE_BACKEND", "tape")
	_, err = Load()
	assert.Error(t, err)
}

func TestOptionalIntegrations(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://coach@localhost:5432/coach?sslmode=disable")
	t.Setenv("PUBSUB_PROJECT_ID", "coach-dev")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.JournalEnabled())
	assert.True(t, cfg.EventsEnabled())
	assert.Equal(t, "voicecoach-history", cfg.PubSubTopicID)
}
