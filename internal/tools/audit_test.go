package tools

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/logging"
	"github.com/wolfganghq/centurion/internal/store"
)

type capturingAuditStore struct {
	entries []*store.ToolAuditEntry
	err     error
}

func (c *capturingAuditStore) RecordToolCall(ctx context.Context, entry *store.ToolAuditEntry) error {
	c.entries = append(c.entries, entry)
	return c.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditorWrap_RecordsRedactedCall(t *testing.T) {
	captured := &capturingAuditStore{}
	auditor := NewAuditor(captured, discardLogger())
	companyID, centurionID := store.GenNewID(), store.GenNewID()

	wrapped := auditor.wrap(companyID, centurionID, KindHTTP, "crm_lookup",
		func(ctx context.Context, args map[string]any) Result {
			return Result{OK: true, StatusCode: 200, Body: map[string]any{"deal": "d-1"}}
		})

	ctx := logging.WithRequestID(context.Background(), "req-1")
	ctx = logging.WithCorrelationID(ctx, "corr-12345678")
	res := wrapped(ctx, map[string]any{
		"api_key": "sk-super-secret",
		"query":   "apartamento 2 quartos",
		"filters": map[string]any{"Authorization": "Bearer abc"},
	})

	if !res.OK {
		t.Fatalf("wrapped handler changed the result: %+v", res)
	}
	if len(captured.entries) != 1 {
		t.Fatalf("expected one audit row, got %d", len(captured.entries))
	}
	entry := captured.entries[0]
	if entry.CompanyID != companyID || entry.CenturionID != centurionID {
		t.Fatalf("tenant context lost: %+v", entry)
	}
	if entry.ToolName != "crm_lookup" || entry.Kind != KindHTTP {
		t.Fatalf("tool identity lost: %+v", entry)
	}
	if entry.RequestID != "req-1" || entry.CorrelationID != "corr-12345678" {
		t.Fatalf("request context lost: %+v", entry)
	}
	if !entry.Success || entry.DurationMS < 0 {
		t.Fatalf("outcome fields wrong: %+v", entry)
	}
	if entry.Args["api_key"] != auditRedacted {
		t.Fatalf("secret arg not redacted: %v", entry.Args["api_key"])
	}
	if entry.Args["query"] != "apartamento 2 quartos" {
		t.Fatalf("plain arg mangled: %v", entry.Args["query"])
	}
	nested, _ := entry.Args["filters"].(map[string]any)
	if nested["Authorization"] != auditRedacted {
		t.Fatalf("nested secret not redacted: %v", nested)
	}
	resultBody, _ := entry.Result["body"].(map[string]any)
	if resultBody["deal"] != "d-1" {
		t.Fatalf("result body lost: %+v", entry.Result)
	}
}

func TestAuditorWrap_FailureRecordedWithError(t *testing.T) {
	captured := &capturingAuditStore{}
	auditor := NewAuditor(captured, discardLogger())

	wrapped := auditor.wrap(store.GenNewID(), store.GenNewID(), KindMCP, "mcp_calendar__book",
		func(ctx context.Context, args map[string]any) Result {
			return failure("mcp call failed", "connection refused")
		})
	res := wrapped(context.Background(), nil)

	if res.OK {
		t.Fatalf("expected failure result: %+v", res)
	}
	entry := captured.entries[0]
	if entry.Success || entry.Error != "mcp call failed" {
		t.Fatalf("failure not recorded: %+v", entry)
	}
	if entry.Kind != KindMCP {
		t.Fatalf("kind lost: %q", entry.Kind)
	}
}

func TestAuditorWrap_WriteFailureDoesNotBreakTool(t *testing.T) {
	captured := &capturingAuditStore{err: context.DeadlineExceeded}
	auditor := NewAuditor(captured, discardLogger())

	wrapped := auditor.wrap(store.GenNewID(), store.GenNewID(), KindBuiltin, "media_search_assets",
		func(ctx context.Context, args map[string]any) Result {
			return Result{OK: true, StatusCode: 200}
		})
	if res := wrapped(context.Background(), nil); !res.OK {
		t.Fatalf("audit write failure must not fail the tool: %+v", res)
	}
}

func TestAuditorWrap_NilStorePassesThrough(t *testing.T) {
	var auditor *Auditor
	called := false
	wrapped := auditor.wrap(uuid.Nil, uuid.Nil, KindHTTP, "t",
		func(ctx context.Context, args map[string]any) Result {
			called = true
			return Result{OK: true}
		})
	if res := wrapped(context.Background(), nil); !res.OK || !called {
		t.Fatal("nil auditor must return the handler unchanged")
	}
}

func TestClipAuditString(t *testing.T) {
	long := strings.Repeat("x", auditMaxString+50)
	got := clipAuditString(long)
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Fatalf("oversized string not marked truncated: %q", got[len(got)-20:])
	}
	if len(got) != auditMaxString+len("...[truncated]") {
		t.Fatalf("unexpected clipped length %d", len(got))
	}
	if clipAuditString("curto") != "curto" {
		t.Fatal("short string must pass through")
	}
}
