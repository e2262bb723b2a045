// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output (LOG_DEV=true)
//
// Lecture components never log through the standard library. They receive a
// *zap.Logger and attach view_id, content_id and block fields so a single
// lecture's lifecycle can be followed across load, execution and teardown.
//
// Example Usage:
//
//	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
//	logger.Info("Server starting", zap.String("port", "8000"))
//	logger.Warn("Block failed", zap.Int("block", 2), zap.Error(err))
package logging
