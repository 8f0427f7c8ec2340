package tools

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/logging"
	"github.com/wolfganghq/centurion/internal/store"
)

const (
	auditWriteTimeout = 5 * time.Second
	auditMaxString    = 2000
	auditRedacted     = "[REDACTED]"
)

// Tool kinds recorded in the audit trail.
const (
	KindHTTP    = "http"
	KindMCP     = "mcp"
	KindBuiltin = "builtin"
)

// auditSecretKeys are argument names whose values never reach the audit row.
var auditSecretKeys = map[string]struct{}{
	"password":      {},
	"pass":          {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"api_key":       {},
	"apikey":        {},
	"secret":        {},
	"authorization": {},
	"credential":    {},
	"credentials":   {},
}

// Auditor persists one row per tool invocation. A failed write logs a warning
// and never affects the tool result.
type Auditor struct {
	store  store.AuditStore
	logger *slog.Logger
}

func NewAuditor(auditStore store.AuditStore, logger *slog.Logger) *Auditor {
	return &Auditor{store: auditStore, logger: logger}
}

// wrap times the handler and records the redacted call. The write uses a
// detached context so a canceled dispatch still leaves its trail.
func (a *Auditor) wrap(companyID, centurionID uuid.UUID, kind, name string, h handler) handler {
	if a == nil || a.store == nil {
		return h
	}
	return func(ctx context.Context, args map[string]any) Result {
		start := time.Now()
		res := h(ctx, args)

		entry := &store.ToolAuditEntry{
			ID:            store.GenNewID(),
			CompanyID:     companyID,
			CenturionID:   centurionID,
			ToolName:      name,
			Kind:          kind,
			RequestID:     logging.RequestID(ctx),
			CorrelationID: logging.CorrelationID(ctx),
			Args:          redactAuditMap(args),
			Result:        auditResult(res),
			Success:       res.OK,
			Error:         res.Error,
			DurationMS:    time.Since(start).Milliseconds(),
		}
		bg, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		defer cancel()
		if err := a.store.RecordToolCall(bg, entry); err != nil {
			a.logger.Warn("tools.audit_write_failed", "tool", name, "error", err)
		}
		return res
	}
}

func auditResult(res Result) map[string]any {
	out := map[string]any{
		"ok":          res.OK,
		"status_code": res.StatusCode,
	}
	if res.Body != nil {
		out["body"] = redactAuditValue(res.Body)
	}
	if res.Error != "" {
		out["error"] = clipAuditString(res.Error)
	}
	if res.Details != nil {
		out["details"] = redactAuditValue(res.Details)
	}
	return out
}

func redactAuditMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, secret := auditSecretKeys[strings.ToLower(k)]; secret {
			out[k] = auditRedacted
			continue
		}
		out[k] = redactAuditValue(v)
	}
	return out
}

func redactAuditValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return redactAuditMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactAuditValue(item)
		}
		return out
	case string:
		return clipAuditString(t)
	default:
		return v
	}
}

func clipAuditString(s string) string {
	if len(s) <= auditMaxString {
		return s
	}
	return s[:auditMaxString] + "...[truncated]"
}
