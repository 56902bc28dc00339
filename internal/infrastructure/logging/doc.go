// Package logging provides structured logging for BLE Scanner Core.
//
// It wraps the standard library's log/slog with configuration-driven
// handler selection (JSON or text), level filtering, and default fields
// (service name, version) attached to every record.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("scanner started", "filters", len(cfg.Scanner.TopicFilters))
//
//	// Component-scoped logger
//	ingestLog := log.With("component", "ingest")
//
// Before configuration is available, use logging.Default() which logs
// JSON to stdout at info level.
package logging
