package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "BEHAVIORD_"

	maxConfigFileSize = 1024 * 1024 // 1MB
	systemConfigDir   = "/etc/behaviord"
)

// DefaultPath returns ~/.config/behaviord/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "behaviord", "config.yaml"), nil
}

// Load reads the YAML file at path (the default path when empty), applies
// BEHAVIORD_* environment overrides, fills defaults and validates.
//
// Precedence, highest first:
//  1. Environment variables (BEHAVIORD_SERVER_HTTP_PORT -> server.http_port)
//  2. YAML config file
//  3. Defaults
//
// The file must live in ~/.config/behaviord/ or /etc/behaviord/, be at most
// 1MB and have 0600 or 0400 permissions. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")

	content, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps BEHAVIORD_SECTION_FIELD_NAME to section.field_name. Only the
// first underscore after the prefix separates section and field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile returns nil content when the file does not exist. The file is
// validated through the opened descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/behaviord with 0700 permissions.
func EnsureConfigDir() error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks that path resolves into an allowed directory.
// Runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	for _, dir := range []string{filepath.Join(home, ".config", "behaviord"), systemConfigDir} {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/behaviord/ or %s/", systemConfigDir)
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// applyDefaults sets default values for missing fields.
func applyDefaults(cfg *Config) {
	setString(&cfg.Server.Host, "0.0.0.0")
	setInt(&cfg.Server.Port, 8080)
	setDuration(&cfg.Server.ShutdownTimeout, 10*time.Second)

	setString(&cfg.Logging.Level, "info")
	setString(&cfg.Logging.Format, "json")

	setString(&cfg.Observability.ServiceName, "behaviord")
	setString(&cfg.Observability.Endpoint, "localhost:4317")
	setString(&cfg.Observability.Protocol, "grpc")
	setFloat(&cfg.Observability.SampleRate, 1.0)

	setString(&cfg.Store.Driver, DriverMemory)

	setString(&cfg.Postgres.Host, "localhost")
	setInt(&cfg.Postgres.Port, 5432)
	setString(&cfg.Postgres.Database, "behaviord")
	setString(&cfg.Postgres.User, "behaviord")
	setString(&cfg.Postgres.SSLMode, "disable")
	setInt(&cfg.Postgres.MaxOpenConns, 25)
	setInt(&cfg.Postgres.MaxIdleConns, 5)
	setDuration(&cfg.Postgres.ConnMaxLifetime, 5*time.Minute)

	setString(&cfg.NATS.Name, "behaviord")

	setString(&cfg.Oracle.Model, "gpt-4o-mini")
	setDuration(&cfg.Oracle.Timeout, 10*time.Second)
	setFloat(&cfg.Oracle.RateLimit, 2)
	setInt(&cfg.Oracle.Burst, 4)
	setInt(&cfg.Oracle.MaxEvents, 200)

	setInt(&cfg.Tracking.AnalysisThreshold, 20)
	setDuration(&cfg.Tracking.ActivityWindow, 24*time.Hour)
	setDuration(&cfg.Tracking.AnalysisDelay, time.Minute)
	setDuration(&cfg.Tracking.AnalysisTimeout, 2*time.Minute)

	setInt(&cfg.Detection.MinEvents, 10)
	setDuration(&cfg.Detection.Lookback, 30*24*time.Hour)
	setFloat(&cfg.Detection.TemporalThreshold, 0.3)
	setFloat(&cfg.Detection.SequenceThreshold, 0.2)
	setFloat(&cfg.Detection.ContextThreshold, 0.4)
	setDuration(&cfg.Detection.SequenceGap, 10*time.Minute)
	setFloat(&cfg.Detection.OracleMinPotential, 0.5)
	setDuration(&cfg.Detection.OracleTimeout, 15*time.Second)
	setFloat(&cfg.Detection.ComplexityWeight, 0.8)

	setFloat(&cfg.Automation.MinPotential, 0.7)
	setFloat(&cfg.Automation.MinConfidence, 0.6)
	setInt(&cfg.Automation.MinRoutingGroup, 3)
	setInt(&cfg.Automation.CacheSize, 1024)

	setDuration(&cfg.Notification.OracleTimeout, 5*time.Second)
	setDuration(&cfg.Notification.CounterWindow, time.Hour)
	setInt(&cfg.Notification.CounterMaxUsers, 4096)

	setDuration(&cfg.Delivery.Interval, 5*time.Minute)
	setInt(&cfg.Delivery.BatchSize, 50)
	setDuration(&cfg.Delivery.Lease, 2*time.Minute)
	setDuration(&cfg.Delivery.BaseBackoff, time.Minute)
	setDuration(&cfg.Delivery.MaxBackoff, time.Hour)
	setInt(&cfg.Delivery.MaxAttempts, 5)
	setDuration(&cfg.Delivery.BatchTimeout, 4*time.Minute)
}
