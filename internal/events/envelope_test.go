package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validFrame(t *testing.T, mutate func(m map[string]any)) []byte {
	t.Helper()
	m := map[string]any{
		"id":             "4f1c2d3e-0000-0000-0000-000000000001",
		"type":           TypeMessageReceived,
		"source":         "gateway",
		"version":        1,
		"occurred_at":    time.Now().UTC().Format(time.RFC3339Nano),
		"company_id":     "8d9e0f1a-0000-0000-0000-000000000002",
		"correlation_id": "corr-12345678",
		"payload":        map[string]any{"instance_id": "abc"},
	}
	if mutate != nil {
		mutate(m)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return raw
}

func TestParse_Valid(t *testing.T) {
	env, err := Parse(validFrame(t, nil), TypeMessageReceived)
	if err != nil {
		t.Fatalf("expected valid frame, got: %v", err)
	}
	if env.Type != TypeMessageReceived {
		t.Fatalf("unexpected type: %q", env.Type)
	}
	if env.CorrelationID != "corr-12345678" {
		t.Fatalf("unexpected correlation id: %q", env.CorrelationID)
	}
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		raw    []byte
		reason string
	}{
		{"invalid json", []byte("{not json"), "invalid_json"},
		{"non-object", []byte(`[1,2,3]`), "not_object"},
		{"wrong type", validFrame(t, func(m map[string]any) { m["type"] = TypeMessageSent }), "unexpected_type"},
		{"short id", validFrame(t, func(m map[string]any) { m["id"] = "abc" }), "validation_error"},
		{"missing source", validFrame(t, func(m map[string]any) { delete(m, "source") }), "validation_error"},
		{"blank source", validFrame(t, func(m map[string]any) { m["source"] = "   " }), "validation_error"},
		{"missing version", validFrame(t, func(m map[string]any) { m["version"] = 0 }), "validation_error"},
		{"short company", validFrame(t, func(m map[string]any) { m["company_id"] = "x" }), "validation_error"},
		{"short correlation", validFrame(t, func(m map[string]any) { m["correlation_id"] = "abc" }), "validation_error"},
		{"zero timestamp", validFrame(t, func(m map[string]any) { delete(m, "occurred_at") }), "validation_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.raw, TypeMessageReceived)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got: %v", err)
			}
			if perr.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, perr.Reason)
			}
		})
	}
}

func TestParse_AnyTypeWhenExpectedEmpty(t *testing.T) {
	raw := validFrame(t, func(m map[string]any) { m["type"] = TypeLeadCreated })
	env, err := Parse(raw, "")
	if err != nil {
		t.Fatalf("expected any type to pass: %v", err)
	}
	if env.Type != TypeLeadCreated {
		t.Fatalf("unexpected type: %q", env.Type)
	}
}

func TestBuildRoundTrip(t *testing.T) {
	body, err := json.Marshal(map[string]any{"lead_id": "l1"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := Build(TypeLeadQualified, "company-123", "corr-12345678", "cause-1", body)
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, err := Parse(raw, TypeLeadQualified)
	if err != nil {
		t.Fatalf("parse built envelope: %v", err)
	}
	if parsed.ID != env.ID || parsed.CausationID != "cause-1" {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
	if parsed.Source != SourceName {
		t.Fatalf("built envelope must carry the producer source, got %q", parsed.Source)
	}
	var payload map[string]string
	if err := json.Unmarshal(parsed.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["lead_id"] != "l1" {
		t.Fatalf("payload lost: %+v", payload)
	}
}
