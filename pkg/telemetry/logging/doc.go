// Package logging builds the structured loggers used across rulegate.
//
// Loggers are plain *slog.Logger values so that every component can accept
// one through a WithLogger option and fall back to slog.Default(). New wraps
// the JSON or text handler with two layers:
//
//   - a context layer that appends request_id, batch_index, snapshot_version,
//     and the active trace and span IDs carried by the context
//   - a redaction layer that masks API keys, emails, and similar values in
//     attribute values when PII redaction is enabled
//
// # Usage
//
//	logger, err := logging.New(logging.Options{
//	    Level:     "info",
//	    Format:    "json",
//	    RedactPII: true,
//	})
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "evaluation complete", "valid", true)
//
// Rule content is never logged by the engine; redaction covers identifiers
// and error messages that can echo user input.
package logging
