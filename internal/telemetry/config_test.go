package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "behaviord", cfg.ServiceName)
	assert.Equal(t, "0.1.0", cfg.ServiceVersion)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout.Duration())
}

func TestFromSettings(t *testing.T) {
	t.Run("maps the observability section", func(t *testing.T) {
		cfg := FromSettings(config.ObservabilityConfig{
			EnableTelemetry: true,
			ServiceName:     "behaviord-test",
			Endpoint:        "localhost:4318",
			Protocol:        "http",
			Insecure:        true,
			SampleRate:      0.25,
		}, "1.2.3")

		assert.True(t, cfg.Enabled)
		assert.Equal(t, "behaviord-test", cfg.ServiceName)
		assert.Equal(t, "1.2.3", cfg.ServiceVersion)
		assert.Equal(t, "localhost:4318", cfg.Endpoint)
		assert.Equal(t, "http/protobuf", cfg.Protocol)
		assert.Equal(t, 0.25, cfg.Sampling.Rate)
		require.NoError(t, cfg.Validate())
	})

	t.Run("keeps defaults for empty fields", func(t *testing.T) {
		cfg := FromSettings(config.ObservabilityConfig{SampleRate: 1}, "")
		assert.False(t, cfg.Enabled)
		assert.Equal(t, "grpc", cfg.Protocol)
		assert.Equal(t, "behaviord", cfg.ServiceName)
		assert.Equal(t, "0.1.0", cfg.ServiceVersion)
	})
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mutate func(*Config)) *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		mutate(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid default config",
			config: NewDefaultConfig(),
		},
		{
			name:   "disabled config skips validation",
			config: &Config{Enabled: false},
		},
		{
			name:   "enabled defaults",
			config: enabled(func(*Config) {}),
		},
		{
			name:    "missing endpoint",
			config:  enabled(func(c *Config) { c.Endpoint = "" }),
			wantErr: true,
			errMsg:  "endpoint is required",
		},
		{
			name:    "missing service name",
			config:  enabled(func(c *Config) { c.ServiceName = "" }),
			wantErr: true,
			errMsg:  "service_name is required",
		},
		{
			name:    "missing service version",
			config:  enabled(func(c *Config) { c.ServiceVersion = "" }),
			wantErr: true,
			errMsg:  "service_version is required",
		},
		{
			name:    "unknown protocol",
			config:  enabled(func(c *Config) { c.Protocol = "udp" }),
			wantErr: true,
			errMsg:  "protocol must be",
		},
		{
			name:    "insecure remote endpoint",
			config:  enabled(func(c *Config) { c.Endpoint = "collector.prod:4317" }),
			wantErr: true,
			errMsg:  "insecure connections to remote endpoints",
		},
		{
			name: "secure remote endpoint",
			config: enabled(func(c *Config) {
				c.Endpoint = "collector.prod:4317"
				c.Insecure = false
			}),
		},
		{
			name:    "sampling rate above one",
			config:  enabled(func(c *Config) { c.Sampling.Rate = 1.5 }),
			wantErr: true,
			errMsg:  "sampling.rate",
		},
		{
			name:    "zero export interval",
			config:  enabled(func(c *Config) { c.Metrics.ExportInterval = 0 }),
			wantErr: true,
			errMsg:  "export_interval",
		},
		{
			name:    "zero shutdown timeout",
			config:  enabled(func(c *Config) { c.Shutdown.Timeout = 0 }),
			wantErr: true,
			errMsg:  "shutdown.timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		isLocal  bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"http://localhost:4318", true},
		{"127.0.0.1:4317", true},
		{"127.0.1.1:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"collector.prod:4317", false},
		{"https://otel.example.com", false},
		{"10.0.0.1:4317", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.isLocal, cfg.isLocalEndpoint())
		})
	}
}
