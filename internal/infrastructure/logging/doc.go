// Package logging builds the zap logger shared by the demo host and the
// tracing agent: JSON in production, colored console lines in development.
//
// Logs go to stderr by default so stdout stays free for the console span
// sink.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "info", Service: "users"})
//	logger.Info("agent started")
//	logger.Error("sink unreachable", zap.Error(err))
package logging
