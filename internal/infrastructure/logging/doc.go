// Package logging provides structured logging for the gridd binaries.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the supervisor, detector and
// device workers.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stderr, stdout
//
// The detector and device workers always log to stderr: their stdout is
// the IPC pipe to the supervisor, which captures stderr and re-logs it.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "gridd", "1.0.0")
//	logger.Info("control server listening", "port", 12002)
//	logger.Error("failed to spawn worker", "error", err)
package logging
