package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string `validate:"required,oneof=development staging production test"`
	Port         string `validate:"required,numeric"`
	StoreBackend string `validate:"oneof=postgres memory"`
	DatabaseURL  string `validate:"required_if=StoreBackend postgres"`
	JWTSecret    string `validate:"required,min=8"`
	CatalogPath  string `validate:"required"`
	LogLevel     string `validate:"omitempty,oneof=trace debug info warn error"`
	DBMaxConns   int    `validate:"gte=1,lte=200"`

	QuotaTimezone         string `validate:"required"`
	DailyMaxImages        int    `validate:"gte=1"`
	MaxImagesPerRequest   int    `validate:"gte=1"`
	MaxImageBytes         int64  `validate:"gte=1024"`
	CacheTTL              time.Duration
	CacheHitConsumesQuota bool
	InflightWait          time.Duration `validate:"gte=0"`
	HistoryPageSize       int           `validate:"gte=1,lte=100"`

	ExtractionProvider    string        `validate:"oneof=gemini disabled"`
	ExtractionTimeout     time.Duration `validate:"gt=0"`
	ExtractionConcurrency int           `validate:"gte=1"`
	AnalysisProvider      string        `validate:"oneof=gemini openai"`
	AnalysisTimeout       time.Duration `validate:"gt=0"`
	AnalysisMaxAttempts   int           `validate:"gte=1,lte=10"`
	AnalysisBackoff       time.Duration `validate:"gte=0"`

	GeminiAPIKey      string
	GeminiModel       string `validate:"required"`
	GeminiVisionModel string `validate:"required"`
	OpenAIAPIKey      string `validate:"required_if=AnalysisProvider openai"`
	OpenAIModel       string
	OpenAIBaseURL     string `validate:"omitempty,url"`
	OpenAIOrg         string

	StorageBackend        string `validate:"oneof=filesystem azure"`
	StoragePath           string `validate:"required_if=StorageBackend filesystem"`
	AzureStorageAccount   string `validate:"required_if=StorageBackend azure"`
	AzureStorageKey       string `validate:"required_if=StorageBackend azure"`
	AzureStorageContainer string `validate:"required_if=StorageBackend azure"`

	ReaperInterval   time.Duration `validate:"gt=0"`
	ReaperStaleAfter time.Duration `validate:"gt=0"`

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration `validate:"gt=0"`
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		CatalogPath:  getEnv("CATALOG_PATH", "./config/catalog.yaml"),
		LogLevel:     strings.ToLower(os.Getenv("LOG_LEVEL")),
		DBMaxConns:   getEnvInt("DB_MAX_CONNS", 10),

		QuotaTimezone:         getEnv("QUOTA_TIMEZONE", "UTC"),
		DailyMaxImages:        getEnvInt("DAILY_MAX_IMAGES", 20),
		MaxImagesPerRequest:   getEnvInt("MAX_IMAGES_PER_REQUEST", 5),
		MaxImageBytes:         int64(getEnvInt("MAX_IMAGE_BYTES", 8<<20)),
		CacheTTL:              getEnvDuration("CACHE_TTL", 0),
		CacheHitConsumesQuota: getEnvBool("CACHE_HIT_CONSUMES_QUOTA", false),
		InflightWait:          getEnvDuration("INFLIGHT_WAIT", 90*time.Second),
		HistoryPageSize:       getEnvInt("HISTORY_PAGE_SIZE", 20),

		ExtractionProvider:    strings.ToLower(getEnv("EXTRACTION_PROVIDER", "gemini")),
		ExtractionTimeout:     getEnvDuration("EXTRACTION_TIMEOUT", 30*time.Second),
		ExtractionConcurrency: getEnvInt("EXTRACTION_CONCURRENCY", 4),
		AnalysisProvider:      strings.ToLower(getEnv("ANALYSIS_PROVIDER", "gemini")),
		AnalysisTimeout:       getEnvDuration("ANALYSIS_TIMEOUT", 60*time.Second),
		AnalysisMaxAttempts:   getEnvInt("ANALYSIS_MAX_ATTEMPTS", 3),
		AnalysisBackoff:       getEnvDuration("ANALYSIS_BACKOFF", 500*time.Millisecond),

		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiVisionModel: getEnv("GEMINI_VISION_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:         os.Getenv("OPENAI_ORG"),

		StorageBackend:        strings.ToLower(getEnv("STORAGE_BACKEND", "filesystem")),
		StoragePath:           getEnv("STORAGE_PATH", "./storage"),
		AzureStorageAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureStorageKey:       os.Getenv("AZURE_STORAGE_KEY"),
		AzureStorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "screenshots"),

		ReaperInterval:   getEnvDuration("REAPER_INTERVAL", time.Minute),
		ReaperStaleAfter: getEnvDuration("REAPER_STALE_AFTER", 10*time.Minute),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(cfg.QuotaTimezone); err != nil {
		return nil, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
	}
	if gap := cfg.LongestStageGap(); cfg.ReaperStaleAfter <= gap {
		return nil, fmt.Errorf("REAPER_STALE_AFTER (%s) must exceed the longest gap between progress updates (%s)", cfg.ReaperStaleAfter, gap)
	}
	if worst := cfg.PipelineWorstCase(); cfg.HTTPWriteTimeout <= worst {
		return nil, fmt.Errorf("HTTP_WRITE_TIMEOUT_SECONDS (%s) must exceed the worst-case pipeline duration (%s)", cfg.HTTPWriteTimeout, worst)
	}

	return cfg, nil
}

// extractionStage is the longest extraction can run: every batch of
// ExtractionConcurrency images hits its timeout.
func (c *Config) extractionStage() time.Duration {
	batches := (c.MaxImagesPerRequest + c.ExtractionConcurrency - 1) / c.ExtractionConcurrency
	return time.Duration(batches) * c.ExtractionTimeout
}

// analysisBackoff matches the orchestrator: base doubled per failed attempt.
func (c *Config) analysisBackoff(attempt int) time.Duration {
	return c.AnalysisBackoff << (attempt - 1)
}

// LongestStageGap is the longest a request can go without its updated_at
// moving. Each analysis attempt refreshes it, so the analysis bound is one
// attempt plus the largest backoff before the next.
func (c *Config) LongestStageGap() time.Duration {
	gap := c.AnalysisTimeout
	if c.AnalysisMaxAttempts > 1 {
		gap += c.analysisBackoff(c.AnalysisMaxAttempts - 1)
	}
	return max(c.extractionStage(), gap)
}

// PipelineWorstCase is extraction plus every analysis attempt and backoff.
func (c *Config) PipelineWorstCase() time.Duration {
	total := c.extractionStage() + time.Duration(c.AnalysisMaxAttempts)*c.AnalysisTimeout
	for attempt := 1; attempt < c.AnalysisMaxAttempts; attempt++ {
		total += c.analysisBackoff(attempt)
	}
	return total
}

// Location resolves QuotaTimezone; LoadConfig has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
