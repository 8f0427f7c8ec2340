package qualification

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRules_Defaults(t *testing.T) {
	r := ParseRules(nil)
	require.Equal(t, 1.0, r.Threshold)
	require.Empty(t, r.Criteria)

	r = ParseRules(json.RawMessage(`not json`))
	require.Equal(t, 1.0, r.Threshold)
	require.Empty(t, r.Criteria)
}

func TestParseRules_Criteria(t *testing.T) {
	raw := json.RawMessage(`{
		"threshold": 0.7,
		"criteria": [
			{"key": "budget", "type": "field_present", "weight": 0.5, "required": true, "field": "budget"},
			{"key": "intent", "type": "llm", "weight": 0.5, "prompt": "Did the lead express buying intent?"},
			{"key": "budget", "type": "field_present", "weight": 0.9},
			{"key": "", "weight": 1},
			{"key": "region", "type": "bogus_type"}
		]
	}`)
	r := ParseRules(raw)

	require.Equal(t, 0.7, r.Threshold)
	require.Len(t, r.Criteria, 3)

	require.Equal(t, "budget", r.Criteria[0].Key)
	require.True(t, r.Criteria[0].Required)
	require.Equal(t, 0.5, r.Criteria[0].Weight)

	require.Equal(t, TypeLLM, r.Criteria[1].Type)
	require.Equal(t, "Did the lead express buying intent?", r.Criteria[1].Prompt)

	// Unknown type degrades to field_present; field defaults to key.
	require.Equal(t, TypeFieldPresent, r.Criteria[2].Type)
	require.Equal(t, "region", r.Criteria[2].Field)
}

func TestParseRules_ThresholdClamped(t *testing.T) {
	r := ParseRules(json.RawMessage(`{"threshold": 3.5, "criteria": [{"key": "a"}]}`))
	require.Equal(t, 1.0, r.Threshold)

	r = ParseRules(json.RawMessage(`{"threshold": -1, "criteria": [{"key": "a"}]}`))
	require.Equal(t, 0.0, r.Threshold)
}

func TestParseRules_LegacyRequiredFields(t *testing.T) {
	r := ParseRules(json.RawMessage(`{"required_fields": ["budget", "city", " ", "budget"]}`))
	require.Len(t, r.Criteria, 2)
	for _, c := range r.Criteria {
		require.True(t, c.Required)
		require.Equal(t, TypeFieldPresent, c.Type)
		require.InDelta(t, 0.5, c.Weight, 0.001)
	}
}

func TestHash_Canonical(t *testing.T) {
	a := Hash(json.RawMessage(`{"b": 1, "a": 2}`))
	b := Hash(json.RawMessage(`{"a": 2, "b": 1}`))
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	require.NotEqual(t, a, Hash(json.RawMessage(`{"a": 2, "b": 3}`)))
	// Garbage hashes as the empty document, deterministically.
	require.Equal(t, Hash(json.RawMessage(`garbage`)), Hash(json.RawMessage(`also garbage`)))
}
