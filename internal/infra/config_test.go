package infra

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DAILY_MAX_IMAGES", "")
	t.Setenv("CACHE_TTL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DailyMaxImages != 20 {
		t.Fatalf("DailyMaxImages = %d, want 20", cfg.DailyMaxImages)
	}
	if cfg.CacheTTL != 0 {
		t.Fatalf("CacheTTL = %s, want 0", cfg.CacheTTL)
	}
	if cfg.CacheHitConsumesQuota {
		t.Fatal("CacheHitConsumesQuota should default to false")
	}
	if cfg.AnalysisMaxAttempts != 3 || cfg.AnalysisBackoff != 500*time.Millisecond {
		t.Fatalf("analysis retry defaults mismatch: %d %s", cfg.AnalysisMaxAttempts, cfg.AnalysisBackoff)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("Location = %v, want UTC", cfg.Location())
	}
}

func TestLoadConfigParsesDurationsAndBools(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CACHE_TTL", "24h")
	t.Setenv("INFLIGHT_WAIT", "45")
	t.Setenv("CACHE_HIT_CONSUMES_QUOTA", "true")
	t.Setenv("QUOTA_TIMEZONE", "Asia/Jakarta")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Fatalf("CacheTTL = %s, want 24h", cfg.CacheTTL)
	}
	if cfg.InflightWait != 45*time.Second {
		t.Fatalf("InflightWait = %s, want 45s", cfg.InflightWait)
	}
	if !cfg.CacheHitConsumesQuota {
		t.Fatal("CacheHitConsumesQuota should be true")
	}
	if got := cfg.Location().String(); got != "Asia/Jakarta" {
		t.Fatalf("Location = %q, want Asia/Jakarta", got)
	}
	if got := strings.Join(cfg.CORSOrigins, ","); got != "https://a.example,https://b.example" {
		t.Fatalf("CORSOrigins = %q", got)
	}
}

func TestLoadConfigMemoryBackendSkipsDatabaseURL(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_BACKEND", "memory")

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"missing jwt", "JWT_SECRET", "", "JWTSecret"},
		{"zero quota", "DAILY_MAX_IMAGES", "0", "DailyMaxImages"},
		{"unknown provider", "ANALYSIS_PROVIDER", "bard", "AnalysisProvider"},
		{"bad timezone", "QUOTA_TIMEZONE", "Mars/Olympus", "QUOTA_TIMEZONE"},
		{"short reaper window", "REAPER_STALE_AFTER", "30s", "REAPER_STALE_AFTER"},
		{"write timeout below pipeline", "HTTP_WRITE_TIMEOUT_SECONDS", "180", "HTTP_WRITE_TIMEOUT_SECONDS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := LoadConfig()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadConfigRejectsReaperWindowShorterThanRetries(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ANALYSIS_TIMEOUT", "60s")
	t.Setenv("ANALYSIS_MAX_ATTEMPTS", "5")
	t.Setenv("ANALYSIS_BACKOFF", "10s")
	t.Setenv("REAPER_STALE_AFTER", "2m")
	t.Setenv("HTTP_WRITE_TIMEOUT_SECONDS", "3600")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error: a 60s attempt plus an 80s backoff outlasts a 2m reaper window")
	}
	if !strings.Contains(err.Error(), "REAPER_STALE_AFTER") {
		t.Fatalf("error %q does not mention REAPER_STALE_AFTER", err)
	}

	t.Setenv("REAPER_STALE_AFTER", "141s")
	if _, err := LoadConfig(); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
}

func TestLoadConfigRejectsReaperWindowShorterThanExtractionBatches(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_IMAGES_PER_REQUEST", "10")
	t.Setenv("EXTRACTION_CONCURRENCY", "2")
	t.Setenv("EXTRACTION_TIMEOUT", "30s")
	t.Setenv("REAPER_STALE_AFTER", "2m")
	t.Setenv("HTTP_WRITE_TIMEOUT_SECONDS", "3600")

	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "REAPER_STALE_AFTER") {
		t.Fatalf("LoadConfig error = %v, want REAPER_STALE_AFTER rejection for 5 batches of 30s", err)
	}
}

func TestPipelineBoundsForDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got, want := cfg.LongestStageGap(), 61*time.Second; got != want {
		t.Fatalf("LongestStageGap = %s, want %s", got, want)
	}
	if got, want := cfg.PipelineWorstCase(), 241500*time.Millisecond; got != want {
		t.Fatalf("PipelineWorstCase = %s, want %s", got, want)
	}
	if cfg.HTTPWriteTimeout != 300*time.Second {
		t.Fatalf("HTTPWriteTimeout = %s, want 300s", cfg.HTTPWriteTimeout)
	}
}

func TestLoadConfigRequiresDatabaseURLForPostgres(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_BACKEND", "postgres")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}
