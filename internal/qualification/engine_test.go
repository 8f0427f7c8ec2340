package qualification

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func rulesFrom(t *testing.T, doc string) Rules {
	t.Helper()
	return ParseRules(json.RawMessage(doc))
}

func TestEvaluate_EmptyRules(t *testing.T) {
	eval := Evaluate(Rules{Threshold: 1.0}, nil, "", nil)
	require.False(t, eval.IsQualified)
	require.False(t, eval.RequiredMet)
	require.Zero(t, eval.Score)
}

func TestEvaluate_FieldPresentFromPreviousData(t *testing.T) {
	rules := rulesFrom(t, `{"threshold": 1.0, "criteria": [
		{"key": "budget", "weight": 1, "required": true}
	]}`)
	eval := Evaluate(rules, map[string]any{"budget": "R$ 500.000"}, "", nil)

	require.True(t, eval.IsQualified)
	require.Equal(t, 1.0, eval.Score)
	require.Equal(t, SourcePreviousData, eval.Results[0].Evidence["source"])
	require.Equal(t, "R$ 500.000", eval.Results[0].Evidence["value"])
}

func TestEvaluate_HeuristicFallback(t *testing.T) {
	rules := rulesFrom(t, `{"threshold": 0.5, "criteria": [
		{"key": "budget", "weight": 0.5},
		{"key": "visit_date", "field": "data_visita", "weight": 0.5}
	]}`)
	transcript := "Cliente: meu orçamento é R$ 350.000 e posso visitar dia 12/09/2026."
	eval := Evaluate(rules, nil, transcript, nil)

	require.Equal(t, SourceHeuristic, eval.Results[0].Evidence["source"])
	require.Equal(t, "R$ 350.000", eval.Results[0].Evidence["value"])
	require.Equal(t, "12/09/2026", eval.Results[1].Evidence["value"])
	require.True(t, eval.IsQualified)
}

func TestEvaluate_RequiredUnmetBlocksQualification(t *testing.T) {
	rules := rulesFrom(t, `{"threshold": 0.5, "criteria": [
		{"key": "budget", "weight": 0.5},
		{"key": "cpf", "weight": 0.5, "required": true}
	]}`)
	eval := Evaluate(rules, map[string]any{"budget": "R$ 100"}, "", nil)

	require.False(t, eval.RequiredMet)
	require.False(t, eval.IsQualified)
	require.Equal(t, 0.5, eval.Score)
}

func TestEvaluate_LLMCriteria(t *testing.T) {
	rules := rulesFrom(t, `{"threshold": 1.0, "criteria": [
		{"key": "intent", "type": "llm", "weight": 1, "prompt": "buying intent?"}
	]}`)

	// Without a verdict the criterion counts as unmet.
	eval := Evaluate(rules, nil, "", nil)
	require.False(t, eval.IsQualified)
	require.Equal(t, "llm_not_evaluated", eval.Results[0].Evidence["reason"])

	eval = Evaluate(rules, nil, "", map[string]LLMResult{
		"intent": {Met: true, Evidence: "quer fechar esse mês", Confidence: 0.9},
	})
	require.True(t, eval.IsQualified)
	require.Equal(t, 0.9, eval.Results[0].Evidence["confidence"])
}

func TestEvaluate_ZeroWeightsFallBackToRatio(t *testing.T) {
	rules := rulesFrom(t, `{"threshold": 0.5, "criteria": [
		{"key": "a"}, {"key": "b"}
	]}`)
	eval := Evaluate(rules, map[string]any{"a": "x"}, "", nil)
	require.Equal(t, 0.5, eval.Score)
	require.True(t, eval.IsQualified)
}

func TestEvaluate_Summary(t *testing.T) {
	eval := Evaluate(rulesFrom(t, `{"criteria":[{"key":"a"}]}`),
		map[string]any{"b": "2", "a": "1", "empty": ""}, "", nil)
	require.Equal(t, "a=1 | b=2", eval.Summary)
}

func TestHeuristicExtract_Location(t *testing.T) {
	got := heuristicExtract("Procuro apartamento no bairro Pinheiros perto do metrô", "bairro")
	require.Contains(t, got, "bairro Pinheiros")
}
