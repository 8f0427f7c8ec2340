package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, ConnectionState{Mode: "disabled"}, slog.Default())
	rec, body := doRequest(t, s.Handler(), http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "ok" || body["service"] != "centurion" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if rec.Header().Get("x-request-id") == "" {
		t.Fatal("x-request-id should be stamped on the response")
	}
}

func TestReady_DisabledConnections(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, ConnectionState{Mode: "disabled"}, slog.Default())
	rec, body := doRequest(t, s.Handler(), http.MethodGet, "/ready", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("disabled connections are still ready: %d", rec.Code)
	}
	checks := body["checks"].(map[string]any)
	if checks["database"] != "disabled" || checks["redis"] != "disabled" {
		t.Fatalf("unexpected checks: %+v", checks)
	}
}

func TestReady_FailedStartup(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, ConnectionState{Mode: "failed", ErrorType: "redis"}, slog.Default())
	rec, body := doRequest(t, s.Handler(), http.MethodGet, "/ready", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed startup should report 503, got %d", rec.Code)
	}
	if body["status"] != "degraded" || body["connection_error_type"] != "redis" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCenturionTest_ConnectionsDisabled(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, ConnectionState{Mode: "disabled"}, slog.Default())
	rec, _ := doRequest(t, s.Handler(), http.MethodPost,
		"/centurions/2c1f1d7e-0000-0000-0000-000000000001/test", `{"message": "oi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with connections disabled, got %d", rec.Code)
	}
}

func TestCorrelationHeadersEchoed(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, ConnectionState{Mode: "disabled"}, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("x-request-id", "req-1")
	req.Header.Set("x-correlation-id", "corr-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Header().Get("x-request-id") != "req-1" {
		t.Fatalf("request id not echoed: %q", rec.Header().Get("x-request-id"))
	}
	if rec.Header().Get("x-correlation-id") != "corr-1" {
		t.Fatalf("correlation id not echoed: %q", rec.Header().Get("x-correlation-id"))
	}
}
