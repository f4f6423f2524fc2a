package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/rajasatyajit/storeforge/internal/errors"
)

// Ledger backends
const (
	LedgerAuto     = "auto"
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
	LedgerRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Auth       AuthConfig
	Admin      AdminConfig
	Quota      QuotaConfig
	Ledger     LedgerConfig
	Retention  RetentionConfig
	FloodGuard FloodGuardConfig
}

type ServerConfig struct {
	Host                    string
	Port                    int
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	GracefulShutdownTimeout time.Duration
	CORSOrigins             []string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string // json or text
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type AuthConfig struct {
	SessionSecret string
	SessionCookie string
	SessionTTL    time.Duration
	Issuer        string
	KeyHeader     string // raw API key header; Authorization: Bearer is also accepted
	KeyEnv        string // environment segment embedded in issued API keys
}

type AdminConfig struct {
	AdminSecret string
}

// QuotaConfig tunes the limiter. Plan ceilings come from PlansFile when set.
type QuotaConfig struct {
	PlansFile         string
	EvaluateTimeout   time.Duration
	LogTimeout        time.Duration
	GenerationMarkers []string
	RouteMaxRequests  int // 0 disables the per-route window
	RouteWindow       time.Duration
}

type LedgerConfig struct {
	Backend    string
	SQLitePath string
}

type RetentionConfig struct {
	MaxAge   time.Duration // 0 keeps usage events forever
	Schedule string        // cron expression; empty disables pruning
}

type FloodGuardConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:                    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                    getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:             getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			GracefulShutdownTimeout: getEnvDuration("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:             getEnvList("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 1*time.Hour),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Auth: AuthConfig{
			SessionSecret: getEnv("AUTH_SESSION_SECRET", ""),
			SessionCookie: getEnv("AUTH_SESSION_COOKIE", "sf_session"),
			SessionTTL:    getEnvDuration("AUTH_SESSION_TTL", 24*time.Hour),
			Issuer:        getEnv("AUTH_ISSUER", "storeforge"),
			KeyHeader:     getEnv("AUTH_KEY_HEADER", "X-API-Key"),
			KeyEnv:        getEnv("AUTH_KEY_ENV", "live"),
		},
		Admin: AdminConfig{
			AdminSecret: getEnv("ADMIN_SECRET", ""),
		},
		Quota: QuotaConfig{
			PlansFile:         getEnv("QUOTA_PLANS_FILE", ""),
			EvaluateTimeout:   getEnvDuration("QUOTA_EVALUATE_TIMEOUT", 3*time.Second),
			LogTimeout:        getEnvDuration("QUOTA_LOG_TIMEOUT", 5*time.Second),
			GenerationMarkers: getEnvList("QUOTA_GENERATION_MARKERS", []string{"generate-store"}),
			RouteMaxRequests:  getEnvInt("QUOTA_ROUTE_MAX_REQUESTS", 0),
			RouteWindow:       getEnvDuration("QUOTA_ROUTE_WINDOW", time.Minute),
		},
		Ledger: LedgerConfig{
			Backend:    strings.ToLower(getEnv("LEDGER_BACKEND", LedgerAuto)),
			SQLitePath: getEnv("LEDGER_SQLITE_PATH", "storeforge.db"),
		},
		Retention: RetentionConfig{
			MaxAge:   getEnvDuration("USAGE_RETENTION", 90*24*time.Hour),
			Schedule: getEnv("USAGE_PRUNE_SCHEDULE", "0 3 * * *"),
		},
		FloodGuard: FloodGuardConfig{
			Enabled: getEnvBool("FLOOD_GUARD_ENABLED", true),
			RPS:     getEnvFloat("FLOOD_GUARD_RPS", 20),
			Burst:   getEnvInt("FLOOD_GUARD_BURST", 40),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LedgerBackend resolves "auto" to a concrete backend: PostgreSQL, then Redis, then memory.
func (c *Config) LedgerBackend() string {
	if c.Ledger.Backend != LedgerAuto && c.Ledger.Backend != "" {
		return c.Ledger.Backend
	}
	switch {
	case c.Database.URL != "":
		return LedgerPostgres
	case c.Redis.URL != "":
		return LedgerRedis
	default:
		return LedgerMemory
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	errs := &apperrors.MultiError{}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs.Add(apperrors.ValidationError{Field: "SERVER_PORT", Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)})
	}
	if c.Database.MaxConns < 1 {
		errs.Add(apperrors.ValidationError{Field: "DB_MAX_CONNS", Message: "must be at least 1"})
	}
	if c.Quota.EvaluateTimeout <= 0 {
		errs.Add(apperrors.ValidationError{Field: "QUOTA_EVALUATE_TIMEOUT", Message: "must be positive"})
	}
	if c.Quota.LogTimeout <= 0 {
		errs.Add(apperrors.ValidationError{Field: "QUOTA_LOG_TIMEOUT", Message: "must be positive"})
	}
	if len(c.Quota.GenerationMarkers) == 0 {
		errs.Add(apperrors.ValidationError{Field: "QUOTA_GENERATION_MARKERS", Message: "at least one marker is required"})
	}
	if c.Quota.RouteMaxRequests < 0 {
		errs.Add(apperrors.ValidationError{Field: "QUOTA_ROUTE_MAX_REQUESTS", Message: "must not be negative"})
	}
	if c.Quota.RouteMaxRequests > 0 && c.Quota.RouteWindow <= 0 {
		errs.Add(apperrors.ValidationError{Field: "QUOTA_ROUTE_WINDOW", Message: "must be positive when a route limit is set"})
	}

	switch c.LedgerBackend() {
	case LedgerMemory:
	case LedgerPostgres:
		if c.Database.URL == "" {
			errs.Add(apperrors.ValidationError{Field: "DATABASE_URL", Message: "required for the postgres ledger"})
		}
	case LedgerRedis:
		if c.Redis.URL == "" {
			errs.Add(apperrors.ValidationError{Field: "REDIS_URL", Message: "required for the redis ledger"})
		}
	case LedgerSQLite:
		if c.Ledger.SQLitePath == "" {
			errs.Add(apperrors.ValidationError{Field: "LEDGER_SQLITE_PATH", Message: "required for the sqlite ledger"})
		}
	default:
		errs.Add(apperrors.ValidationError{Field: "LEDGER_BACKEND", Message: fmt.Sprintf("unknown backend %q", c.Ledger.Backend)})
	}

	if c.Retention.MaxAge < 0 {
		errs.Add(apperrors.ValidationError{Field: "USAGE_RETENTION", Message: "must not be negative"})
	}
	if c.FloodGuard.Enabled && (c.FloodGuard.RPS <= 0 || c.FloodGuard.Burst < 1) {
		errs.Add(apperrors.ValidationError{Field: "FLOOD_GUARD_RPS", Message: "rps and burst must be positive"})
	}
	if c.Auth.SessionSecret != "" && len(c.Auth.SessionSecret) < 32 {
		errs.Add(apperrors.ValidationError{Field: "AUTH_SESSION_SECRET", Message: "must be at least 32 bytes"})
	}

	return errs.ErrOrNil()
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
