// Package logging provides logging utilities for botfile-proxy.
//
// This package provides two categories of output:
//   - Operational logging: structured logs via slog (startup, requests, errors)
//   - User output: formatted messages for the person running the CLI
//
// # Operational Logging
//
// Records are written using slog; the minimum level comes from --log-level:
//
//	logging.Setup(level, jsonOutput, os.Stderr)
//	logging.Debug("file not served", "bot", botID, "error", err)
//	logging.Warn("upstream path dropped", "path", u.Path)
//
// The proxy server receives logging.Logger explicitly; the package-level
// helpers are for command code.
//
// # User Output
//
// User-facing messages are formatted with status indicators:
//
//	logging.UserInfo("Listening on http://%s", addr)
//	logging.UserWarning("Access log disabled")
//
// Output destinations:
//   - UserInfo, UserSuccess: stdout
//   - UserWarning, UserError: stderr
package logging
