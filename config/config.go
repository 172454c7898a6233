// Package config loads service settings from the environment (and a local
// .env file when present).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/hoursbank/attendance"
)

type Config struct {
	App       AppConfig
	Storage   StorageConfig
	Lock      LockConfig
	Hours     HoursConfig
	Scheduler SchedulerConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Addr           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// StorageConfig selects where the ledger lives. Domain tables are always
// in the SQLite file at DBPath.
type StorageConfig struct {
	DBPath       string
	LedgerDriver string // sqlite | postgres
	DatabaseURL  string
}

type LockConfig struct {
	Backend  string // local | redis
	RedisURL string
	TTL      time.Duration
}

type HoursConfig struct {
	TodayRule      attendance.TodayRule
	BreakPlacement attendance.Placement
	Location       *time.Location
	AutoRepair     bool
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	LockLocal      = "local"
	LockRedis      = "redis"
)

// Load reads the environment. A missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	config := &Config{}

	config.App = AppConfig{
		Addr:           getEnv("APP_ADDR", ":8080"),
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS"),
	}

	config.Storage = StorageConfig{
		DBPath:       getEnv("DB_PATH", "./data/hours.db"),
		LedgerDriver: getEnv("LEDGER_DRIVER", DriverSQLite),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
	}

	lockTTL, err := getEnvDuration("LOCK_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	config.Lock = LockConfig{
		Backend:  getEnv("LOCK_BACKEND", LockLocal),
		RedisURL: getEnv("REDIS_URL", ""),
		TTL:      lockTTL,
	}

	todayRule, err := attendance.ParseTodayRule(getEnv("TODAY_RULE", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid TODAY_RULE: %w", err)
	}
	placement, err := attendance.ParsePlacement(getEnv("BREAK_PLACEMENT", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid BREAK_PLACEMENT: %w", err)
	}
	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	autoRepair, err := getEnvBool("AUTO_REPAIR_SNAPSHOTS", false)
	if err != nil {
		return nil, err
	}
	config.Hours = HoursConfig{
		TodayRule:      todayRule,
		BreakPlacement: placement,
		Location:       loc,
		AutoRepair:     autoRepair,
	}

	schedulerEnabled, err := getEnvBool("SCHEDULER_ENABLED", true)
	if err != nil {
		return nil, err
	}
	interval, err := getEnvDuration("SCHEDULER_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	config.Scheduler = SchedulerConfig{Enabled: schedulerEnabled, Interval: interval}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Storage.LedgerDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be %s or %s, got %q", DriverSQLite, DriverPostgres, c.Storage.LedgerDriver)
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND=redis")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be %s or %s, got %q", LockLocal, LockRedis, c.Lock.Backend)
	}

	if c.Lock.TTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval < time.Minute {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1m")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.App.Env == "production" }

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return []string{}
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
