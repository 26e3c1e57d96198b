/*
Package log provides structured logging for Bay using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common patterns. All logs include timestamps and support
filtering by severity level.

# Usage

Initialize once at startup:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Create component loggers:

	logger := log.WithComponent("session-manager")
	logger.Info().Str("sandbox_id", id).Msg("Sandbox created")

Contextual child loggers attach recurring fields:

	log.WithSandboxID("sandbox-abc123").Warn().Msg("Idle timeout approaching")
	log.WithRequestID(reqID).Debug().Msg("Request received")

# Output

JSON format (production):

	{"level":"info","component":"api","time":"2026-02-11T10:00:00Z","message":"API server listening"}

Console format (development, JSONOutput: false) renders the same events
human-readably.

# Conventions

  - One component logger per long-lived object, created in the constructor
  - Errors carry the cause via Err(err), never formatted into the message
  - Identifiers go in fields (sandbox_id, session_id, cargo_id), not text
  - Messages are short sentences in sentence case
*/
package log
