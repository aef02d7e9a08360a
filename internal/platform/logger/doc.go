// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. Loggers can be attached to and retrieved from a
// context.Context so request- and job-scoped attributes follow the work they describe,
// and every record passes through a redacting handler that scrubs credentials,
// connection strings, and raw SQL before it reaches the log stream.
package logger
