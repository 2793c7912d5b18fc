// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/joho/godotenv"
)

// Broker modes
const (
	BrokerModeBridge = "bridge"
	BrokerModePaper  = "paper"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the ledger and backups (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	BrokerMode string
	Bridge     BridgeConfig
	// PaperCash seeds the simulated account in paper mode
	PaperCash float64

	Execution ExecutionConfig
	Schedule  ScheduleConfig
	Backup    BackupConfig
}

// BridgeConfig holds the desktop bridge connection settings
type BridgeConfig struct {
	URL      string
	Timeout  time.Duration
	MinDelay time.Duration
}

// ExecutionConfig holds the engine constants
type ExecutionConfig struct {
	LotSize           int64
	MinOrderValue     float64
	IgnoreOrderValue  float64
	PassiveOffset     float64
	BookRetryAttempts int
	BookRetryDelay    time.Duration
	SettleDelay       time.Duration
	DefaultInterval   time.Duration
}

// ScheduleConfig configures the unattended rebalance job.
// The job is disabled when Cron or TargetsFile is empty.
type ScheduleConfig struct {
	Cron        string
	TargetsFile string
	Duration    time.Duration
}

// Enabled reports whether a scheduled rebalance is configured
func (s ScheduleConfig) Enabled() bool {
	return s.Cron != "" && s.TargetsFile != ""
}

// BackupConfig configures ledger backups. Uploads are disabled without a bucket.
type BackupConfig struct {
	Cron      string
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for R2 or MinIO
	AccessKey string
	SecretKey string
	Prefix    string
}

// Enabled reports whether backups have somewhere to go
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("REBALANCER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	defaults := execution.DefaultParams()
	cfg := &Config{
		DataDir:    absDataDir,
		Port:       getEnvAsInt("GO_PORT", 8001),
		DevMode:    getEnvAsBool("DEV_MODE", false),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		BrokerMode: strings.ToLower(getEnv("BROKER_MODE", BrokerModeBridge)),
		PaperCash:  getEnvAsFloat("PAPER_CASH", 1_000_000),
		Bridge: BridgeConfig{
			URL:      getEnv("BRIDGE_URL", "http://127.0.0.1:9100"),
			Timeout:  getEnvAsDuration("BRIDGE_TIMEOUT", 30*time.Second),
			MinDelay: getEnvAsDuration("BRIDGE_MIN_DELAY", 250*time.Millisecond),
		},
		Execution: ExecutionConfig{
			LotSize:           int64(getEnvAsInt("LOT_SIZE", int(defaults.LotSize))),
			MinOrderValue:     getEnvAsFloat("MIN_ORDER_VALUE", defaults.MinOrderValue),
			IgnoreOrderValue:  getEnvAsFloat("IGNORE_ORDER_VALUE", defaults.IgnoreOrderValue),
			PassiveOffset:     getEnvAsFloat("PASSIVE_OFFSET", defaults.PassiveOffset),
			BookRetryAttempts: getEnvAsInt("BOOK_RETRY_ATTEMPTS", defaults.BookRetry.MaxAttempts),
			BookRetryDelay:    getEnvAsDuration("BOOK_RETRY_DELAY", defaults.BookRetry.Delay),
			SettleDelay:       getEnvAsDuration("SETTLE_DELAY", defaults.SettleDelay),
			DefaultInterval:   getEnvAsDuration("DEFAULT_INTERVAL", defaults.DefaultInterval),
		},
		Schedule: ScheduleConfig{
			Cron:        getEnv("SCHEDULE_CRON", ""),
			TargetsFile: getEnv("SCHEDULE_TARGETS_FILE", ""),
			Duration:    getEnvAsDuration("SCHEDULE_DURATION", time.Hour),
		},
		Backup: BackupConfig{
			Cron:      getEnv("BACKUP_CRON", "0 0 3 * * *"),
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Prefix:    getEnv("BACKUP_S3_PREFIX", "rebalancer"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration is internally consistent
func (c *Config) Validate() error {
	switch c.BrokerMode {
	case BrokerModeBridge:
		if c.Bridge.URL == "" {
			return fmt.Errorf("BRIDGE_URL is required in bridge mode")
		}
	case BrokerModePaper:
	default:
		return fmt.Errorf("BROKER_MODE must be %q or %q, got %q", BrokerModeBridge, BrokerModePaper, c.BrokerMode)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT out of range: %d", c.Port)
	}
	if c.Schedule.Enabled() && c.Schedule.Duration <= 0 {
		return fmt.Errorf("SCHEDULE_DURATION must be positive")
	}
	if err := c.ExecutionParams().Validate(); err != nil {
		return err
	}
	return nil
}

// LedgerPath returns the ledger database location
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// BackupStagingDir returns where snapshots are written before upload
func (c *Config) BackupStagingDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// ExecutionParams converts the configuration into engine parameters
func (c *Config) ExecutionParams() execution.Params {
	return execution.Params{
		LotSize:          c.Execution.LotSize,
		MinOrderValue:    c.Execution.MinOrderValue,
		IgnoreOrderValue: c.Execution.IgnoreOrderValue,
		PassiveOffset:    c.Execution.PassiveOffset,
		BookRetry: execution.RetryPolicy{
			MaxAttempts: c.Execution.BookRetryAttempts,
			Delay:       c.Execution.BookRetryDelay,
		},
		SettleDelay:     c.Execution.SettleDelay,
		DefaultInterval: c.Execution.DefaultInterval,
	}
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1h30m") or plain seconds ("90")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
