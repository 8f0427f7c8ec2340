package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfganghq/centurion/internal/egress"
	"github.com/wolfganghq/centurion/internal/store"
)

func testExecutor() *Executor {
	return NewExecutor(egress.NewPolicy(nil), egress.DefaultLimits(), slog.Default())
}

func TestExecute_BlockedEndpoint(t *testing.T) {
	e := testExecutor()
	res := e.Execute(context.Background(), &store.ToolConfig{
		ToolName: "hook",
		Endpoint: "http://127.0.0.1:9/never",
		Method:   "POST",
	}, nil)
	if res.OK || res.Error != "endpoint not allowed" {
		t.Fatalf("loopback endpoint must be blocked: %+v", res)
	}
}

func TestExecute_UnsupportedMethod(t *testing.T) {
	e := testExecutor()
	res := e.Execute(context.Background(), &store.ToolConfig{
		ToolName: "hook",
		Endpoint: "https://1.1.1.1/hook",
		Method:   "TRACE",
	}, nil)
	if res.OK || res.Error != "unsupported method" {
		t.Fatalf("expected method rejection: %+v", res)
	}
}

func TestExecute_InputSchemaRejection(t *testing.T) {
	e := testExecutor()
	res := e.Execute(context.Background(), &store.ToolConfig{
		ToolName:    "hook",
		Endpoint:    "https://1.1.1.1/hook",
		Method:      "POST",
		InputSchema: json.RawMessage(`{"type": "object", "required": ["query"]}`),
	}, map[string]any{"other": 1})
	if res.OK || res.Error != "arguments failed schema validation" {
		t.Fatalf("expected schema rejection: %+v", res)
	}
}

// doRequest is exercised directly so the HTTP exchange can run against a
// local test server without tripping the SSRF policy.
func TestDoRequest_PostJSON(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deal_id": "d-1"}`))
	}))
	defer srv.Close()

	e := testExecutor()
	tool := &store.ToolConfig{
		ToolName:   "crm_create",
		Endpoint:   srv.URL,
		AuthType:   "bearer",
		AuthConfig: map[string]any{"token": "tok-1"},
	}
	res, err := e.doRequest(context.Background(), tool, http.MethodPost, map[string]any{"name": "Maria"})
	if err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	if !res.OK || res.StatusCode != 200 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotBody["name"] != "Maria" {
		t.Fatalf("request body lost: %+v", gotBody)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("bearer header missing: %q", gotAuth)
	}
	body, ok := res.Body.(map[string]any)
	if !ok || body["deal_id"] != "d-1" {
		t.Fatalf("json body not decoded: %+v", res.Body)
	}
}

func TestDoRequest_GetQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	e := testExecutor()
	tool := &store.ToolConfig{ToolName: "search", Endpoint: srv.URL + "?fixed=1"}
	res, err := e.doRequest(context.Background(), tool, http.MethodGet, map[string]any{
		"q":     "apartamento",
		"limit": float64(5),
	})
	if err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	if res.Body != "plain text" {
		t.Fatalf("non-json body should stay a string: %+v", res.Body)
	}
	for _, want := range []string{"fixed=1", "q=apartamento", "limit=5"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query missing %q: %q", want, gotQuery)
		}
	}
}

func TestDoRequest_OutputSchemaFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"unexpected": true}`))
	}))
	defer srv.Close()

	e := testExecutor()
	tool := &store.ToolConfig{
		ToolName:     "strict",
		Endpoint:     srv.URL,
		OutputSchema: json.RawMessage(`{"type": "object", "required": ["deal_id"]}`),
	}
	res, err := e.doRequest(context.Background(), tool, http.MethodPost, nil)
	if err != nil {
		t.Fatalf("doRequest: %v", err)
	}
	if res.OK || res.Error != "response failed schema validation" {
		t.Fatalf("expected output schema failure: %+v", res)
	}
}

func TestDoRequest_AuthMisconfigured(t *testing.T) {
	e := testExecutor()
	tool := &store.ToolConfig{
		ToolName: "hook",
		Endpoint: "http://127.0.0.1:9/never",
		AuthType: "bearer", // no token
	}
	res, err := e.doRequest(context.Background(), tool, http.MethodPost, nil)
	if err != nil {
		t.Fatalf("misconfigured auth must be a result, not an error: %v", err)
	}
	if res.OK || res.Error != "auth configuration invalid" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestApplyAuth(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	if err := applyAuth(req, "api_key", map[string]any{"key": "k-1"}); err != nil {
		t.Fatalf("api_key: %v", err)
	}
	if got := req.Header.Get("x-api-key"); got != "k-1" {
		t.Fatalf("default api key header missing: %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, "https://example.com", nil)
	if err := applyAuth(req, "api_key", map[string]any{"key": "k-1", "header_name": "X-Token"}); err != nil {
		t.Fatalf("api_key custom header: %v", err)
	}
	if got := req.Header.Get("X-Token"); got != "k-1" {
		t.Fatalf("custom header missing: %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, "https://example.com", nil)
	if err := applyAuth(req, "basic", map[string]any{"username": "u", "password": "p"}); err != nil {
		t.Fatalf("basic: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Basic dTpw" {
		t.Fatalf("basic credential wrong: %q", got)
	}

	if err := applyAuth(req, "oauth_dance", nil); err == nil {
		t.Fatal("unsupported auth type must error")
	}
}
