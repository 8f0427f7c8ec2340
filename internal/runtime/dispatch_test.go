package runtime

import (
	"encoding/json"
	"testing"

	"github.com/wolfganghq/centurion/internal/qualification"
)

func TestLeadQualifiedPayload(t *testing.T) {
	eval := qualification.Evaluation{
		Score:       0.8,
		IsQualified: true,
		Summary:     "orçamento e prazo confirmados",
		Results: []qualification.CriterionResult{
			{Key: "budget", Met: true},
			{Key: "timeline", Met: false},
			{Key: "location", Met: true},
		},
	}
	raw, err := leadQualifiedPayload("c-1", "l-1", eval)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, stale := payload["criteria_met"]; stale {
		t.Fatal("met criteria must be published under \"criteria\"")
	}
	var criteria []string
	if err := json.Unmarshal(payload["criteria"], &criteria); err != nil {
		t.Fatalf("decode criteria: %v", err)
	}
	if len(criteria) != 2 || criteria[0] != "budget" || criteria[1] != "location" {
		t.Fatalf("expected only met keys, got %+v", criteria)
	}
}

func TestLeadQualifiedPayload_NoCriteriaMet(t *testing.T) {
	raw, err := leadQualifiedPayload("c-1", "l-1", qualification.Evaluation{
		Results: []qualification.CriterionResult{{Key: "budget", Met: false}},
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	// An empty list still serializes, never null.
	if got, ok := payload["criteria"].([]any); !ok || len(got) != 0 {
		t.Fatalf("expected empty criteria list, got %#v", payload["criteria"])
	}
}
