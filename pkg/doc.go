// Package pkg provides shared utilities for the boardsh engine.
//
// This package contains common functionality used across the serial link,
// REPL protocol, file transport and session layers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for the link and REPL protocol
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with engine-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentSession, "device attached", "port", port)
//
// # Errors
//
// Protocol and transport errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrLinkLost) {
//	    // Tear the session down
//	}
//
// The one structured error type is [RemoteError], which carries the stdout
// and stderr streams of a snippet that ran to completion on the board but
// raised an exception there.
package pkg
