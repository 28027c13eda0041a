package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine settings
	Analysis  AnalysisConfig  `json:"analysis"`
	Admission AdmissionConfig `json:"admission"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// AnalysisConfig drives the batch pattern detection run.
type AnalysisConfig struct {
	// AlertThreshold is the minimum risk score that produces an alert.
	AlertThreshold float64 `json:"alertThreshold"`

	// HighRiskThreshold is the score counted as high risk in run reports.
	HighRiskThreshold float64 `json:"highRiskThreshold"`

	// WindowAlignment truncates the as-of time so overlapping runs derive
	// the same windows and idempotency keys.
	WindowAlignment time.Duration `json:"windowAlignment"`

	// Interval schedules runs from the worker. Zero disables the ticker.
	Interval time.Duration `json:"interval"`

	// LockTTL bounds how long a crashed run can hold the run lock.
	LockTTL time.Duration `json:"lockTtl"`

	// EmittedKeyTTL is how long emitted alert keys stay in the cache.
	EmittedKeyTTL time.Duration `json:"emittedKeyTtl"`

	Carousel CarouselConfig `json:"carousel"`
	Velocity VelocityConfig `json:"velocity"`
	Layering LayeringConfig `json:"layering"`
	Cluster  ClusterConfig  `json:"cluster"`
	Device   DeviceConfig   `json:"device"`
}

// CarouselConfig tunes the cycle finder.
type CarouselConfig struct {
	Lookback          time.Duration `json:"lookback"`
	MinLength         int           `json:"minLength"`
	MaxDepth          int           `json:"maxDepth"`
	MaxPathsPerOrigin int           `json:"maxPathsPerOrigin"`
}

// VelocityConfig tunes the velocity burst finder.
type VelocityConfig struct {
	Lookback  time.Duration `json:"lookback"`
	Window    time.Duration `json:"window"`
	Threshold int           `json:"threshold"`
}

// LayeringConfig tunes the layered chain finder.
type LayeringConfig struct {
	Lookback           time.Duration `json:"lookback"`
	MinLayers          int           `json:"minLayers"`
	MaxChainsPerOrigin int           `json:"maxChainsPerOrigin"`
}

// ClusterConfig tunes the cluster analyzer.
type ClusterConfig struct {
	Lookback time.Duration `json:"lookback"`
	MinSize  int           `json:"minSize"`
}

// DeviceConfig tunes the device and IP anomaly finder.
type DeviceConfig struct {
	MaxAge time.Duration `json:"maxAge"`

	// Lookback is the transaction range joined to devices and addresses.
	Lookback time.Duration `json:"lookback"`
}

// AdmissionConfig drives the synchronous transfer scorer.
type AdmissionConfig struct {
	// VelocityWindow is the sender outbound count window.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// TimeZone is the IANA zone used by the night-time rule.
	TimeZone string `json:"timeZone"`

	// RateLimitPerMinute caps admission requests per client address. Zero disables it.
	RateLimitPerMinute int `json:"rateLimitPerMinute"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultAnalysisConfig returns the detector defaults.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		AlertThreshold:    0.6,
		HighRiskThreshold: 0.7,
		WindowAlignment:   time.Minute,
		LockTTL:           10 * time.Minute,
		EmittedKeyTTL:     24 * time.Hour,
		Carousel: CarouselConfig{
			Lookback:          24 * time.Hour,
			MinLength:         3,
			MaxDepth:          6,
			MaxPathsPerOrigin: 10000,
		},
		Velocity: VelocityConfig{
			Lookback:  15 * time.Minute,
			Window:    15 * time.Minute,
			Threshold: 5,
		},
		Layering: LayeringConfig{
			Lookback:           24 * time.Hour,
			MinLayers:          3,
			MaxChainsPerOrigin: 10000,
		},
		Cluster: ClusterConfig{
			Lookback: 7 * 24 * time.Hour,
			MinSize:  5,
		},
		Device: DeviceConfig{
			MaxAge:   24 * time.Hour,
			Lookback: 7 * 24 * time.Hour,
		},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:         "sqlite",
			SQLitePath:     "./kestrel.db",
			ConnectTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Analysis: DefaultAnalysisConfig(),
		Admission: AdmissionConfig{
			VelocityWindow:     time.Hour,
			TimeZone:           "Local",
			RateLimitPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:         "postgres",
		PostgresHost:   "localhost",
		PostgresPort:   5432,
		PostgresDB:     "kestrel",
		MaxOpenConns:   25,
		MaxIdleConns:   5,
		ConnectTimeout: 30 * time.Second,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Analysis.Interval = 15 * time.Minute
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	a := c.Analysis
	if a.AlertThreshold < 0 || a.AlertThreshold > 1 {
		return fmt.Errorf("%w: alert threshold must be within [0,1], got %v", ErrValidation, a.AlertThreshold)
	}
	if a.Carousel.MinLength < 3 || a.Carousel.MaxDepth < a.Carousel.MinLength {
		return fmt.Errorf("%w: carousel length range %d..%d is invalid", ErrValidation, a.Carousel.MinLength, a.Carousel.MaxDepth)
	}
	if a.Velocity.Threshold < 1 || a.Velocity.Window <= 0 {
		return fmt.Errorf("%w: velocity threshold and window must be positive", ErrValidation)
	}
	if a.Layering.MinLayers < 2 {
		return fmt.Errorf("%w: layering needs at least 2 layers, got %d", ErrValidation, a.Layering.MinLayers)
	}
	if a.Cluster.MinSize < 2 {
		return fmt.Errorf("%w: cluster minimum size must be at least 2, got %d", ErrValidation, a.Cluster.MinSize)
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported driver: %s", ErrValidation, c.Repository.Driver)
	}
	if c.Admission.TimeZone != "" {
		if _, err := time.LoadLocation(c.Admission.TimeZone); err != nil {
			return fmt.Errorf("%w: time zone %q: %v", ErrValidation, c.Admission.TimeZone, err)
		}
	}
	return nil
}
