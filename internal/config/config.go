// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/zipaJopa/agent-results/internal/storage"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for local state (run history ledger)
	Port     int
	DevMode  bool
	LogLevel string

	// Storage is the remote bucket holding pending results, archives,
	// metrics snapshots and the dashboard.
	Storage storage.S3Config

	// OutputsPrefix/ArchivePrefix/MetricsPrefix override the default
	// bucket layout; empty values keep the defaults.
	OutputsPrefix string
	ArchivePrefix string
	MetricsPrefix string

	// DashboardKey is the object key of the rendered status dashboard.
	DashboardKey string

	// Schedule is the cron expression for the daily ingestion job (UTC).
	Schedule string
	// RunOnStart triggers one ingestion pass immediately at startup.
	RunOnStart bool
	// LogZeroValueEvents controls whether zero-value results are kept in
	// the detailed breakdown.
	LogZeroValueEvents bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRACKER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("TRACKER_PORT", 8090),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Storage: storage.S3Config{
			Endpoint:        getEnv("RESULTS_S3_ENDPOINT", ""),
			Region:          getEnv("RESULTS_S3_REGION", "auto"),
			Bucket:          getEnv("RESULTS_S3_BUCKET", "agent-results"),
			AccessKeyID:     getEnv("RESULTS_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("RESULTS_S3_SECRET_ACCESS_KEY", ""),
		},
		OutputsPrefix:      getEnv("TRACKER_OUTPUTS_PREFIX", "outputs"),
		ArchivePrefix:      getEnv("TRACKER_ARCHIVE_PREFIX", "processed_outputs"),
		MetricsPrefix:      getEnv("TRACKER_METRICS_PREFIX", "metrics"),
		DashboardKey:       getEnv("TRACKER_DASHBOARD_KEY", "CONSTELLATION_STATUS.md"),
		Schedule:           getEnv("TRACKER_SCHEDULE", "15 0 * * *"),
		RunOnStart:         getEnvAsBool("TRACKER_RUN_ON_START", true),
		LogZeroValueEvents: getEnvAsBool("TRACKER_LOG_ZERO_VALUE_EVENTS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("RESULTS_S3_BUCKET is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
