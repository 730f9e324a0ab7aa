package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault tests that the defaults form a valid configuration.
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 20, cfg.Tracking.AnalysisThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Tracking.ActivityWindow.Duration())
	assert.Equal(t, 10, cfg.Detection.MinEvents)
	assert.Equal(t, 0.7, cfg.Automation.MinPotential)
	assert.Equal(t, 0.6, cfg.Automation.MinConfidence)
	assert.Equal(t, 5*time.Minute, cfg.Delivery.Interval.Duration())
	assert.Equal(t, 50, cfg.Delivery.BatchSize)
	assert.False(t, cfg.Oracle.Enabled)
	assert.Empty(t, cfg.NATS.URL)
}

// TestValidate tests rejection of invalid settings.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.http_port"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"postgres without host", func(c *Config) {
			c.Store.Driver = DriverPostgres
			c.Postgres.Host = ""
		}, "postgres host"},
		{"bad nats url", func(c *Config) { c.NATS.URL = "http://localhost:4222" }, "nats.url"},
		{"oracle without key", func(c *Config) { c.Oracle.Enabled = true }, "oracle.api_key"},
		{"threshold above one", func(c *Config) { c.Detection.SequenceThreshold = 1.5 }, "detection.sequence_threshold"},
		{"negative confidence", func(c *Config) { c.Automation.MinConfidence = -0.1 }, "automation.min_confidence"},
		{"sample rate", func(c *Config) { c.Observability.SampleRate = 2 }, "observability.sample_rate"},
		{"telemetry protocol", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.Protocol = "udp"
		}, "otlp_protocol"},
		{"backoff order", func(c *Config) { c.Delivery.MaxBackoff = Duration(time.Second) }, "delivery.max_backoff"},
		{"zero attempts", func(c *Config) { c.Delivery.MaxAttempts = 0 }, "delivery.max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestValidate_ReportsAllErrors tests that every problem is reported at once.
func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Store.Driver = "nope"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.http_port")
	assert.Contains(t, err.Error(), "store.driver")
}

// TestDuration tests text round trips and negative rejection.
func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	var fromJSON struct {
		Interval Duration `json:"interval"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"interval":"5m"}`), &fromJSON))
	assert.Equal(t, 5*time.Minute, fromJSON.Interval.Duration())
	assert.Error(t, json.Unmarshal([]byte(`{"interval":300}`), &fromJSON))
}

// TestSecret tests that secrets never print.
func TestSecret(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.False(t, Secret("").IsSet())
	assert.Empty(t, Secret("").String())
}
