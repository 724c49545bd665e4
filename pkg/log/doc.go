// Package log configures the process-wide zerolog logger: JSON output by
// default, a console writer for local runs, and helpers for deriving the
// component- and node-scoped child loggers the rest of the platform
// threads through its constructors.
package log
