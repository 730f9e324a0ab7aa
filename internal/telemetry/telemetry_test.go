package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/config"
)

func disabled(t *testing.T) *Telemetry {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Enabled = false
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return tel
}

func TestNew_Disabled(t *testing.T) {
	tel := disabled(t)

	assert.NotNil(t, tel.Tracer("behaviord"))
	assert.NotNil(t, tel.Meter("behaviord/http"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true})
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("behaviord")
		_ = tel.Meter("behaviord")
		_ = tel.LoggerProvider()
		tel.SetLoggerProvider(nil)
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Degraded: true}, tel.Health())
}

func TestTelemetry_Shutdown(t *testing.T) {
	tests := []struct {
		name string
		tel  func(t *testing.T) *Telemetry
		ctx  func() (context.Context, context.CancelFunc)
	}{
		{
			name: "disabled uses configured timeout",
			tel: func(t *testing.T) *Telemetry {
				tel := disabled(t)
				tel.config.Shutdown.Timeout = config.Duration(100 * time.Millisecond)
				return tel
			},
			ctx: func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
		},
		{
			name: "caller deadline wins",
			tel:  disabled,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
		},
		{
			name: "flushes in-memory providers",
			tel: func(t *testing.T) *Telemetry {
				tt := NewTestTelemetry()
				_, span := tt.Tracer("behaviord").Start(context.Background(), "delivery.RunOnce")
				span.End()
				counter, err := tt.Meter("behaviord").Int64Counter("behaviord.test.sent")
				require.NoError(t, err)
				counter.Add(context.Background(), 1)
				return tt.Telemetry
			},
			ctx: func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel := tt.tel(t)
			ctx, cancel := tt.ctx()
			defer cancel()

			require.NoError(t, tel.Shutdown(ctx))
			assert.False(t, tel.Health().Healthy)
			assert.False(t, tel.IsEnabled())
		})
	}
}

func TestTelemetry_DegradedReason(t *testing.T) {
	tel := disabled(t)

	tel.setDegraded("tracer provider failed: %v", "dial tcp: refused")
	tel.setDegraded("meter provider failed: %v", "dial tcp: refused")

	health := tel.Health()
	assert.True(t, health.Healthy)
	assert.True(t, health.Degraded)
	assert.Equal(t, "meter provider failed: dial tcp: refused", health.Reason)
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	tracer := tt.Tracer("behaviord")

	_, gate := tracer.Start(context.Background(), "notify.Process")
	gate.SetAttributes(
		attribute.String("user_id", "u1"),
		attribute.Bool("ai_enhanced", false),
	)
	gate.End()

	_, batch := tracer.Start(context.Background(), "delivery.RunOnce")
	batch.SetAttributes(attribute.Int("claimed", 3), attribute.Float64("share", 0.5))
	batch.End()

	assert.Len(t, tt.Spans(), 2)
	assert.Nil(t, tt.SpanByName("patterns.Analyze"))
	tt.AssertSpanExists(t, "notify.Process")
	tt.AssertSpanAttribute(t, "notify.Process", "user_id", "u1")
	tt.AssertSpanAttribute(t, "notify.Process", "ai_enhanced", false)
	tt.AssertSpanAttribute(t, "delivery.RunOnce", "claimed", int64(3))
	tt.AssertSpanAttribute(t, "delivery.RunOnce", "share", 0.5)
	assert.True(t, tt.IsEnabled())
}

func TestTestTelemetry_Metrics(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()
	meter := tt.Meter("behaviord/http")

	requests, err := meter.Int64Counter("behaviord.test.requests_total")
	require.NoError(t, err)
	duration, err := meter.Float64Histogram("behaviord.test.duration_seconds")
	require.NoError(t, err)

	requests.Add(ctx, 2)
	assert.True(t, tt.HasMetric(ctx, "behaviord.test.requests_total"))
	assert.False(t, tt.HasMetric(ctx, "behaviord.test.duration_seconds"))
	assert.NotEmpty(t, tt.Collected())

	tt.Reset()
	assert.Empty(t, tt.Collected())

	duration.Record(ctx, 0.25)
	assert.True(t, tt.HasMetric(ctx, "behaviord.test.duration_seconds"))
}
