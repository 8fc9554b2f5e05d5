package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfiguration is returned when required configuration is missing or
// still holds placeholder values.
var ErrConfiguration = errors.New("configuration error")

// Placeholder values shipped in the example .env file
const (
	placeholderClientID     = "your_strava_client_id"
	placeholderClientSecret = "your_strava_client_secret"
)

// SafetyDailyLimit caps the daily request budget of a bulk sync below the
// upstream read limit.
const SafetyDailyLimit = 950

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Metrics server configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Database configuration
	DatabasePath string

	// Strava API configuration
	StravaClientID     string
	StravaClientSecret string

	// Internal API configuration
	InternalAPIKey string

	// Logging configuration
	LogLevel string

	// Bulk sync configuration
	BulkSync BulkSyncConfig

	// Background resumer configuration
	AutoResume        bool
	ResumeInterval    time.Duration
	ResumeConcurrency int
}

// BulkSyncConfig tunes the bulk ingestion engine
type BulkSyncConfig struct {
	DailyLimit  int
	PageSize    int
	BatchSize   int
	Concurrency int
	BatchDelay  time.Duration
	PageDelay   time.Duration
	LeaseTTL    time.Duration
}

// EffectiveDailyLimit returns the configured daily limit capped at the safety limit
func (b BulkSyncConfig) EffectiveDailyLimit() int {
	return min(b.DailyLimit, SafetyDailyLimit)
}

// Load reads configuration from environment variables, after loading an
// optional .env file from the working directory.
// It fails fast if required variables are missing.
func Load() (*Config, error) {
	// A missing .env file is fine; real environment variables take precedence
	_ = godotenv.Load()

	cfg := &Config{
		// Optional values with defaults
		Host:           getEnv("HOST", "localhost"),
		Port:           getEnvInt("PORT", 4101),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsHost:    getEnv("METRICS_HOST", "localhost"),
		MetricsPort:    getEnvInt("METRICS_PORT", 9090),
		DatabasePath:   getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		BulkSync: BulkSyncConfig{
			DailyLimit:  getEnvInt("BULK_SYNC_DAILY_LIMIT", 2500),
			PageSize:    getEnvInt("BULK_SYNC_PAGE_SIZE", 200),
			BatchSize:   getEnvInt("BULK_SYNC_BATCH_SIZE", 5),
			Concurrency: getEnvInt("BULK_SYNC_CONCURRENCY", 5),
			BatchDelay:  getEnvDuration("BULK_SYNC_BATCH_DELAY", 2*time.Second),
			PageDelay:   getEnvDuration("BULK_SYNC_PAGE_DELAY", 1*time.Second),
			LeaseTTL:    getEnvDuration("BULK_SYNC_LEASE_TTL", 30*time.Minute),
		},
		AutoResume:        getEnvBool("AUTO_RESUME", false),
		ResumeInterval:    getEnvDuration("RESUME_INTERVAL", 15*time.Minute),
		ResumeConcurrency: getEnvInt("RESUME_CONCURRENCY", 4),
	}

	// Required values
	var missingVars []string

	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	if cfg.StravaClientID == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_ID")
	}

	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	if cfg.StravaClientSecret == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_SECRET")
	}

	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")
	if cfg.InternalAPIKey == "" {
		missingVars = append(missingVars, "INTERNAL_API_KEY")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("%w: missing required environment variables: %v", ErrConfiguration, missingVars)
	}

	if cfg.StravaClientID == placeholderClientID || cfg.StravaClientSecret == placeholderClientSecret {
		return nil, fmt.Errorf("%w: Strava credentials are still placeholder values, update them from https://www.strava.com/settings/api", ErrConfiguration)
	}

	if err := cfg.BulkSync.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (b BulkSyncConfig) validate() error {
	if b.PageSize < 1 || b.PageSize > 200 {
		return fmt.Errorf("%w: BULK_SYNC_PAGE_SIZE must be between 1 and 200, got %d", ErrConfiguration, b.PageSize)
	}
	if b.BatchSize < 1 {
		return fmt.Errorf("%w: BULK_SYNC_BATCH_SIZE must be positive, got %d", ErrConfiguration, b.BatchSize)
	}
	if b.Concurrency < 1 {
		return fmt.Errorf("%w: BULK_SYNC_CONCURRENCY must be positive, got %d", ErrConfiguration, b.Concurrency)
	}
	if b.DailyLimit < 1 {
		return fmt.Errorf("%w: BULK_SYNC_DAILY_LIMIT must be positive, got %d", ErrConfiguration, b.DailyLimit)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvDuration accepts Go durations ("2s") or plain milliseconds ("2000")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
