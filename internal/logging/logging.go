// Package logging configures the process-wide slog logger: one JSON line
// per record with UTC timestamps, context-propagated request metadata, and
// redaction of secret-looking attribute keys.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	correlationIDKey
	companyIDKey
)

// redactKeys are attribute names whose values never reach the log output.
var redactKeys = map[string]struct{}{
	"password":      {},
	"pass":          {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"authorization": {},
	"api_key":       {},
	"apikey":        {},
	"secret":        {},
	"client_secret": {},
}

// WithRequestID returns a context carrying the request id for log records.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithCorrelationID returns a context carrying the correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithCompanyID returns a context carrying the tenant id.
func WithCompanyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, companyIDKey, id)
}

// RequestID extracts the request id from ctx, or "".
func RequestID(ctx context.Context) string { return ctxString(ctx, requestIDKey) }

// CorrelationID extracts the correlation id from ctx, or "".
func CorrelationID(ctx context.Context) string { return ctxString(ctx, correlationIDKey) }

// CompanyID extracts the tenant id from ctx, or "".
func CompanyID(ctx context.Context) string { return ctxString(ctx, companyIDKey) }

func ctxString(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

type handler struct {
	inner slog.Handler
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, rec slog.Record) error {
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if id := CorrelationID(ctx); id != "" {
		rec.AddAttrs(slog.String("correlation_id", id))
	}
	if id := CompanyID(ctx); id != "" {
		rec.AddAttrs(slog.String("company_id", id))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{inner: h.inner.WithGroup(name)}
}

// Setup installs the default logger. service tags every record; level is one
// of debug/info/warn/error (case-insensitive).
func Setup(service, level string) {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: replaceAttr,
	}
	json := slog.NewJSONHandler(os.Stderr, opts).WithAttrs([]slog.Attr{
		slog.String("service", service),
	})
	slog.SetDefault(slog.New(&handler{inner: json}))
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339Nano))
	}
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(slog.LevelKey, strings.ToLower(lvl.String()))
		}
	}
	if _, secret := redactKeys[strings.ToLower(a.Key)]; secret {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
