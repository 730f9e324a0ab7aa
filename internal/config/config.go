// Package config loads behaviord configuration from a YAML file with
// BEHAVIORD_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Store         StoreConfig         `koanf:"store"`
	Postgres      PostgresConfig      `koanf:"postgres"`
	NATS          NATSConfig          `koanf:"nats"`
	Oracle        OracleConfig        `koanf:"oracle"`
	Tracking      TrackingConfig      `koanf:"tracking"`
	Detection     DetectionConfig     `koanf:"detection"`
	Automation    AutomationConfig    `koanf:"automation"`
	Notification  NotificationConfig  `koanf:"notification"`
	Delivery      DeliveryConfig      `koanf:"delivery"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"otlp_endpoint"`
	Protocol        string  `koanf:"otlp_protocol"`
	Insecure        bool    `koanf:"otlp_insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `koanf:"driver"`
}

// PostgresConfig holds connection settings for the postgres driver.
type PostgresConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	Database        string   `koanf:"database"`
	User            string   `koanf:"user"`
	Password        Secret   `koanf:"password"`
	SSLMode         string   `koanf:"sslmode"`
	MaxOpenConns    int      `koanf:"max_open_conns"`
	MaxIdleConns    int      `koanf:"max_idle_conns"`
	ConnMaxLifetime Duration `koanf:"conn_max_lifetime"`
}

// NATSConfig holds the delivery transport settings. An empty URL delivers to
// the log only.
type NATSConfig struct {
	URL  string `koanf:"url"`
	Name string `koanf:"name"`
}

// OracleConfig configures the LLM-backed analysis oracle.
type OracleConfig struct {
	Enabled   bool     `koanf:"enabled"`
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
	MaxEvents int      `koanf:"max_events"`
}

// TrackingConfig controls when event tracking schedules analysis.
type TrackingConfig struct {
	AnalysisThreshold int      `koanf:"analysis_threshold"`
	ActivityWindow    Duration `koanf:"activity_window"`
	AnalysisDelay     Duration `koanf:"analysis_delay"`
	AnalysisTimeout   Duration `koanf:"analysis_timeout"`
}

// DetectionConfig tunes pattern detection.
type DetectionConfig struct {
	MinEvents          int      `koanf:"min_events"`
	Lookback           Duration `koanf:"lookback"`
	TemporalThreshold  float64  `koanf:"temporal_threshold"`
	SequenceThreshold  float64  `koanf:"sequence_threshold"`
	ContextThreshold   float64  `koanf:"context_threshold"`
	SequenceGap        Duration `koanf:"sequence_gap"`
	OracleMinPotential float64  `koanf:"oracle_min_potential"`
	OracleTimeout      Duration `koanf:"oracle_timeout"`
	ComplexityWeight   float64  `koanf:"complexity_weight"`
}

// AutomationConfig tunes rule synthesis.
type AutomationConfig struct {
	MinPotential    float64 `koanf:"min_potential"`
	MinConfidence   float64 `koanf:"min_confidence"`
	MinRoutingGroup int     `koanf:"min_routing_group"`
	CacheSize       int     `koanf:"cache_size"`
}

// NotificationConfig tunes the notification gate.
type NotificationConfig struct {
	OracleTimeout   Duration `koanf:"oracle_timeout"`
	CounterWindow   Duration `koanf:"counter_window"`
	CounterMaxUsers int      `koanf:"counter_max_users"`
}

// DeliveryConfig tunes the delivery scheduler.
type DeliveryConfig struct {
	Interval     Duration `koanf:"interval"`
	BatchSize    int      `koanf:"batch_size"`
	Lease        Duration `koanf:"lease"`
	BaseBackoff  Duration `koanf:"base_backoff"`
	MaxBackoff   Duration `koanf:"max_backoff"`
	MaxAttempts  int      `koanf:"max_attempts"`
	BatchTimeout Duration `koanf:"batch_timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks the configuration for errors. All problems are reported.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.Endpoint == "" {
			errs = append(errs, errors.New("observability.otlp_endpoint is required when telemetry is enabled"))
		}
		switch c.Observability.Protocol {
		case "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("observability.otlp_protocol must be 'grpc' or 'http', got %q", c.Observability.Protocol))
		}
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
			errs = append(errs, errors.New("postgres host, database and user are required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Store.Driver))
	}

	if c.NATS.URL != "" && !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		errs = append(errs, fmt.Errorf("nats.url must use nats:// or tls://, got %q", c.NATS.URL))
	}

	if c.Oracle.Enabled && !c.Oracle.APIKey.IsSet() {
		errs = append(errs, errors.New("oracle.api_key is required when the oracle is enabled"))
	}
	if c.Oracle.RateLimit <= 0 || c.Oracle.Burst <= 0 {
		errs = append(errs, errors.New("oracle.rate_limit and oracle.burst must be positive"))
	}

	if c.Tracking.AnalysisThreshold < 1 {
		errs = append(errs, errors.New("tracking.analysis_threshold must be at least 1"))
	}

	d := c.Detection
	if d.MinEvents < 1 {
		errs = append(errs, errors.New("detection.min_events must be at least 1"))
	}
	for name, v := range map[string]float64{
		"detection.temporal_threshold":   d.TemporalThreshold,
		"detection.sequence_threshold":   d.SequenceThreshold,
		"detection.context_threshold":    d.ContextThreshold,
		"detection.oracle_min_potential": d.OracleMinPotential,
		"detection.complexity_weight":    d.ComplexityWeight,
		"automation.min_potential":       c.Automation.MinPotential,
		"automation.min_confidence":      c.Automation.MinConfidence,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %v", name, v))
		}
	}

	if c.Delivery.BatchSize < 1 {
		errs = append(errs, errors.New("delivery.batch_size must be at least 1"))
	}
	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, errors.New("delivery.max_attempts must be at least 1"))
	}
	if c.Delivery.MaxBackoff.Duration() < c.Delivery.BaseBackoff.Duration() {
		errs = append(errs, errors.New("delivery.max_backoff must not be below delivery.base_backoff"))
	}

	return errors.Join(errs...)
}
