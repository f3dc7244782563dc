// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Child loggers carry the ids that tie lines together: ForRun tags every line
// of one execution with its run id and ForConnection tags stream traffic.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.ForRun(runID).Info("Run finished", zap.Int("outputs", 4))
package logging
