/*
Package log provides structured logging for shoal-am using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

shoal-am's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("provisioning")            │          │
	│  │  - WithApp("app-abc123-0")                  │          │
	│  │  - WithRunnable("echo")                     │          │
	│  │  - WithContainerID("container-def456")      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "provisioning",             │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "container acquired"          │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z INF container acquired component=provisioning │ │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all shoal-am packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithApp: Add application RunId context
  - WithRunnable: Add runnable name context
  - WithContainerID: Add container id context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "allocate cycle: 0 acquired, 0 completed"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Example: "application master ready, tracker at http://host:41287/"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Example: "stop echo instance 2: best-effort failure: context deadline exceeded"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Example: "launcher: connect to containerd: dial unix /run/containerd/containerd.sock: no such file"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable startup failures only (spec §6: "non-zero only on
    unrecoverable startup failure")
  - Behavior: Logs message and exits process

# Usage

Initializing the Logger:

	import "github.com/cuemby/warren/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("application master starting")
	log.Debug("checking provisioning timeouts")
	log.Warn("provisioning timeout for runnable echo")
	log.Error("failed to connect to containerd")
	log.Fatal("load application spec: unexpected EOF") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("app_run_id", "app-123-0").
		Int("instances", 3).
		Msg("runnable started")

	log.Logger.Error().
		Err(err).
		Str("runnable", "echo").
		Msg("container launch failed")

Component Loggers:

	// Create component-specific logger
	provisioningLog := log.WithComponent("provisioning")
	provisioningLog.Info().Msg("starting provisioning loop")
	provisioningLog.Debug().Str("runnable", "echo").Msg("acquired container")

Context Logger Helpers:

	// Application-specific logs
	appLog := log.WithApp("app-abc123-0")
	appLog.Info().Msg("application master ready")

	// Runnable-specific logs
	runnableLog := log.WithRunnable("echo")
	runnableLog.Info().Msg("instance count changed")

	// Container-specific logs
	containerLog := log.WithContainerID("container-def456")
	containerLog.Info().Msg("container started")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/warren/pkg/log"
	)

	func main() {
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("application master starting")

		provisioningLog := log.WithComponent("provisioning")
		provisioningLog.Info().
			Str("runnable", "echo").
			Int("instances", 2).
			Msg("container acquired")

		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "launcher").
			Msg("failed to connect to containerd")

		log.Info("application master stopped")
	}

# Integration Points

This package integrates with:

  - pkg/appmaster: Logs the startup/shutdown lifecycle
  - pkg/provisioning: Logs dropped containers, launch and request failures, and event handler errors
  - pkg/registry: Logs best-effort stop failures and send failures
  - pkg/messagebus: Logs dispatch failures and unrecognized messages
  - pkg/metastore/raftstore: Logs raft shutdown failures
  - pkg/launcher: Logs containerd task lifecycle

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"appmaster","time":"2024-10-13T10:30:00Z","message":"starting application master"}
	{"level":"info","component":"provisioning","runnable":"echo","time":"2024-10-13T10:30:01Z","message":"container acquired"}
	{"level":"warn","component":"registry","runnable":"echo","time":"2024-10-13T10:30:02Z","message":"stop echo instance 2: best-effort failure"}

Console Format (Development):

	2024-10-13T10:30:00Z INF starting application master component=appmaster
	2024-10-13T10:30:01Z INF container acquired component=provisioning runnable=echo
	2024-10-13T10:30:02Z WRN stop echo instance 2: best-effort failure component=registry runnable=echo

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Records the error text in the "error" field
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Solution: Use Info level in production, rotate logs externally

Missing Context Fields:
  - Symptom: Logs missing component or app_run_id fields
  - Cause: Using global Logger instead of a context logger
  - Solution: Use WithComponent()/WithApp()/WithRunnable()

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Solution: Use .Str() instead of string interpolation

# Log Rotation

shoal-am doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):
	# /etc/logrotate.d/shoal-am
	/var/log/shoal-am/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u shoal-am -f

YARN container logs:
	# stdout/stderr are aggregated by the resource manager's
	# container log handling; JSON logs to stdout are sufficient.

# Security

Log Content:
  - Never log secrets or sensitive data
  - Redact tokens, passwords, API keys
  - Review logs before sharing externally

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() so they land in the "error" field
  - Include context (app run id, runnable, container id)

Don't:
  - Log sensitive data (secrets, passwords)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
