// Package telemetry provides OpenTelemetry instrumentation for behaviord.
//
// # Overview
//
// Traces and metrics are exported over OTLP (gRPC or HTTP) to a collector.
// Pattern analysis, rule synthesis, the notification gate and every
// delivery tick open spans through the global tracer provider installed here.
// Operational counters for the gate and the scheduler are additionally
// exposed in Prometheus format on /metrics.
//
// # Usage
//
//	cfg := telemetry.FromSettings(appCfg.Observability, version)
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// # Configuration
//
//	observability:
//	  enable_telemetry: true
//	  otlp_endpoint: "localhost:4317"
//	  otlp_protocol: "grpc"   # or "http"
//	  service_name: "behaviord"
//	  sample_rate: 1.0
//
// # Error Handling
//
// Telemetry failures do not crash the service. If a provider cannot be
// initialized the instance reports degraded health and hands out no-op
// tracers and meters.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	detector := patterns.NewDetector(nil, patterns.WithTracer(tt.Tracer("test")))
//	...
//	tt.AssertSpanExists(t, "patterns.Analyze")
package telemetry
