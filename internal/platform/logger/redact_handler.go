package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/easelhq/easel-api/internal/redact"
)

// RedactHandler is a custom slog.Handler that scrubs sensitive information
// from log records before they are written. Error values are passed through
// the redact package so connection strings, hosts, and raw SQL inside driver
// errors never reach the log stream, and attributes whose keys mark them as
// credentials are replaced wholesale.
type RedactHandler struct {
	// The underlying handler (usually JSON)
	handler slog.Handler
}

// NewRedactHandler creates a new RedactHandler that writes JSON records to
// out, scrubbing sensitive attribute values before they are emitted.
func NewRedactHandler(out io.Writer, opts *slog.HandlerOptions) *RedactHandler {
	var handlerOpts *slog.HandlerOptions
	if opts != nil {
		// Clone the options to avoid modifying the caller's options
		handlerOptsCopy := *opts
		handlerOpts = &handlerOptsCopy
	} else {
		handlerOpts = &slog.HandlerOptions{}
	}

	return &RedactHandler{
		handler: slog.NewJSONHandler(out, handlerOpts),
	}
}

// Enabled implements the slog.Handler interface.
func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs implements the slog.Handler interface. Preformatted attributes
// are scrubbed here so they cannot bypass the per-record redaction in Handle.
func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = redactAttr(attr)
	}
	return &RedactHandler{handler: h.handler.WithAttrs(clean)}
}

// WithGroup implements the slog.Handler interface.
func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{handler: h.handler.WithGroup(name)}
}

// Handle implements the slog.Handler interface.
func (h *RedactHandler) Handle(ctx context.Context, record slog.Record) error {
	// Rebuild the record with scrubbed attributes; the original is left
	// intact for any other handler observing it.
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})

	return h.handler.Handle(ctx, clean)
}

// redactAttr returns a copy of attr with sensitive values scrubbed. Error
// values and error-keyed strings keep their text with sensitive fragments
// replaced; attributes named like credentials are blanked entirely. Groups
// are walked recursively.
func redactAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()

	if value.Kind() == slog.KindGroup {
		group := value.Group()
		clean := make([]slog.Attr, len(group))
		for i, member := range group {
			clean[i] = redactAttr(member)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(clean...)}
	}

	if err, ok := value.Any().(error); ok {
		return slog.String(attr.Key, redact.Error(err))
	}

	key := strings.ToLower(attr.Key)
	if key == "error" && value.Kind() == slog.KindString {
		return slog.String(attr.Key, redact.String(value.String()))
	}
	if isSensitiveKey(key) {
		// The key alone says the value is a secret; never emit any of it
		return slog.String(attr.Key, redact.RedactionPlaceholder)
	}

	return slog.Attr{Key: attr.Key, Value: value}
}

// isSensitiveKey reports whether a lowercased attribute key names a value
// that must never appear in logs.
func isSensitiveKey(key string) bool {
	switch key {
	case "password", "token", "secret", "api_key", "authorization", "dsn", "database_url", "connection_string":
		return true
	}
	for _, suffix := range []string{"_key", "_token", "_secret", "_password", "_dsn"} {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}
