package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabasePath string
	PriceDBPath  string
	LogLevel     string
	Port         int
	DevMode      bool

	// Ledger policy
	StartCash            float64
	ShortProceedsLockPct float64
	ShortExtraMarginPct  float64

	// Benchmark and pricing
	BenchmarkSymbol string
	BenchStartDate  string
	NavCacheTTL     time.Duration
	QuoteCacheTTL   time.Duration
	RefreshInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8001),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		DatabasePath: getEnv("DATABASE_PATH", "./data/ledger.db"),
		PriceDBPath:  getEnv("PRICE_DB_PATH", "./data/prices.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		StartCash:            getEnvAsFloat("START_CASH", 5_000_000),
		ShortProceedsLockPct: getEnvAsFloat("SHORT_PROCEEDS_LOCK_PCT", 1.00),
		ShortExtraMarginPct:  getEnvAsFloat("SHORT_EXTRA_MARGIN_PCT", 0.50),

		BenchmarkSymbol: getEnv("BENCHMARK_SYMBOL", "^GSPC"),
		BenchStartDate:  getEnv("BENCH_START_DATE", "2020-01-01"),
		NavCacheTTL:     getEnvAsDuration("NAV_CACHE_TTL", 60*time.Second),
		QuoteCacheTTL:   getEnvAsDuration("QUOTE_CACHE_TTL", 60*time.Second),
		RefreshInterval: getEnvAsDuration("REFRESH_INTERVAL", 60*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.PriceDBPath == "" {
		return fmt.Errorf("PRICE_DB_PATH is required")
	}
	if c.ShortProceedsLockPct < 0 || c.ShortExtraMarginPct < 0 {
		return fmt.Errorf("short margin percentages must be non-negative")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
