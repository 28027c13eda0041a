// Package config builds the Kestrel configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const envPrefix = "KESTREL_"

// Load reads configuration from environment variables, starting from the
// defaults of the selected tier. It loads the given env files, or .env when
// none are given, without overriding variables already set.
func Load(files ...string) (*domain.Config, error) {
	if len(files) == 0 {
		// .env is optional in every environment
		_ = godotenv.Load()
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(getEnv("TIER", ""), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	// Server
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvInt("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvInt("WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	// Repository
	r := &cfg.Repository
	r.Driver = getEnv("DB_DRIVER", r.Driver)
	r.SQLitePath = getEnv("SQLITE_PATH", r.SQLitePath)
	r.PostgresHost = getEnv("POSTGRES_HOST", r.PostgresHost)
	r.PostgresPort = getEnvInt("POSTGRES_PORT", r.PostgresPort)
	r.PostgresUser = getEnv("POSTGRES_USER", r.PostgresUser)
	r.PostgresPassword = getEnv("POSTGRES_PASSWORD", r.PostgresPassword)
	r.PostgresDB = getEnv("POSTGRES_DB", r.PostgresDB)
	r.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", r.PostgresSSLMode)
	r.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", r.MaxOpenConns)
	r.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", r.MaxIdleConns)
	r.ConnectTimeout = getEnvDuration("DB_CONNECT_TIMEOUT", r.ConnectTimeout)

	// Cache
	c := &cfg.Cache
	c.Type = getEnv("CACHE_TYPE", c.Type)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.EnableTwoPhase = getEnvBool("CACHE_TWO_PHASE", c.EnableTwoPhase)

	// Event bus
	b := &cfg.EventBus
	b.Type = getEnv("BUS_TYPE", b.Type)
	b.ChannelBufferSize = getEnvInt("BUS_BUFFER_SIZE", b.ChannelBufferSize)
	b.NATSUrl = getEnv("NATS_URL", b.NATSUrl)
	b.NATSToken = getEnv("NATS_TOKEN", b.NATSToken)

	// Analysis
	a := &cfg.Analysis
	a.AlertThreshold = getEnvFloat("ALERT_THRESHOLD", a.AlertThreshold)
	a.HighRiskThreshold = getEnvFloat("HIGH_RISK_THRESHOLD", a.HighRiskThreshold)
	a.Interval = getEnvDuration("ANALYSIS_INTERVAL", a.Interval)
	a.WindowAlignment = getEnvDuration("WINDOW_ALIGNMENT", a.WindowAlignment)
	a.LockTTL = getEnvDuration("ANALYSIS_LOCK_TTL", a.LockTTL)
	a.Carousel.MaxDepth = getEnvInt("CAROUSEL_MAX_DEPTH", a.Carousel.MaxDepth)
	a.Velocity.Threshold = getEnvInt("VELOCITY_THRESHOLD", a.Velocity.Threshold)
	a.Velocity.Window = getEnvDuration("VELOCITY_WINDOW", a.Velocity.Window)
	a.Layering.MinLayers = getEnvInt("LAYERING_MIN_LAYERS", a.Layering.MinLayers)
	a.Cluster.MinSize = getEnvInt("CLUSTER_MIN_SIZE", a.Cluster.MinSize)
	a.Device.MaxAge = getEnvDuration("DEVICE_MAX_AGE", a.Device.MaxAge)

	// Admission
	cfg.Admission.VelocityWindow = getEnvDuration("ADMISSION_VELOCITY_WINDOW", cfg.Admission.VelocityWindow)
	cfg.Admission.TimeZone = getEnv("TIMEZONE", cfg.Admission.TimeZone)
	cfg.Admission.RateLimitPerMinute = getEnvInt("RATE_LIMIT", cfg.Admission.RateLimitPerMinute)

	// Observability
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	if getEnvBool("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Tracing.Enabled = getEnvBool("TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = getEnv("SERVICE_NAME", cfg.Tracing.ServiceName)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger creates the process logger for the logging settings.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		slog.Warn("ignoring invalid integer", "key", envPrefix+key, "value", value)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("ignoring invalid number", "key", envPrefix+key, "value", value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		slog.Warn("ignoring invalid boolean", "key", envPrefix+key, "value", value)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", envPrefix+key, "value", value)
	}
	return defaultValue
}
