// Package logging configures the zap logger used across behaviord.
//
// Components take a plain *zap.Logger (nil means zap.NewNop()). The service
// root builds one Logger from the logging section of the config and hands
// Underlying() to every component.
//
// # Output
//
// Entries are written as JSON (or console text) to stdout and, when telemetry
// is enabled, to the OpenTelemetry log bridge:
//
//	{
//	  "ts": "2026-03-02T09:00:00Z",
//	  "level": "info",
//	  "msg": "pattern analysis completed",
//	  "service": "behaviord",
//	  "user_id": "u-42",
//	  "patterns": 3
//	}
//
// Context-aware methods (Info(ctx, ...)) add trace_id, span_id, user.id and
// request.id when present in ctx.
//
// # Configuration
//
//  1. Defaults (NewDefaultConfig)
//  2. logging section of config.yaml
//  3. BEHAVIORD_LOGGING_LEVEL / BEHAVIORD_LOGGING_FORMAT
//
// # Secret Redaction
//
// The stdout encoder drops values of sensitive keys (password, api_key,
// dsn, ...) and values matching bearer tokens or postgres URLs with
// credentials. config.Secret values are logged through Secret(), which
// records only their length.
//
// # Sampling
//
// Entries below error level are sampled per second (first 100, then 1 in 10).
// Errors are never sampled. Debug and trace levels disable sampling.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	gate, _ := notify.NewGate(store, tl.Underlying())
//	...
//	tl.AssertLogged(t, zapcore.WarnLevel, "oracle")
//	tl.AssertNoSecrets(t)
package logging
