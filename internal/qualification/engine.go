package qualification

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Evidence sources.
const (
	SourcePreviousData = "previous_data"
	SourceHeuristic    = "heuristic"
	SourceMissing      = "missing"
)

// CriterionResult is the outcome of one criterion.
type CriterionResult struct {
	Key      string         `json:"key"`
	Type     string         `json:"type"`
	Met      bool           `json:"met"`
	Weight   float64        `json:"weight"`
	Required bool           `json:"required"`
	Evidence map[string]any `json:"evidence"`
}

// Evaluation is a full pass over the rule set.
type Evaluation struct {
	Score       float64           `json:"score"`
	Threshold   float64           `json:"threshold"`
	IsQualified bool              `json:"is_qualified"`
	RequiredMet bool              `json:"required_met"`
	Results     []CriterionResult `json:"results"`
	Summary     string            `json:"summary"`
}

// LLMResult is a model verdict for one llm-typed criterion.
type LLMResult struct {
	Met        bool
	Evidence   string
	Confidence float64
}

const (
	maxEvidenceValueLen = 200
	maxLLMEvidenceLen   = 400
	maxSummaryFieldLen  = 120
	maxSummaryLen       = 800
)

// Evaluate runs every criterion against known lead data, the conversation
// transcript, and any model verdicts for llm criteria. It never calls out:
// llm criteria without a verdict simply count as unmet.
func Evaluate(rules Rules, previousData map[string]any, transcript string, llmResults map[string]LLMResult) Evaluation {
	eval := Evaluation{Threshold: rules.Threshold}

	for _, c := range rules.Criteria {
		var result CriterionResult
		switch c.Type {
		case TypeLLM:
			result = evaluateLLM(c, llmResults)
		default:
			result = evaluateFieldPresent(c, previousData, transcript)
		}
		eval.Results = append(eval.Results, result)
	}

	eval.Score = score(eval.Results)
	eval.RequiredMet = requiredMet(eval.Results)
	eval.IsQualified = len(eval.Results) > 0 && eval.RequiredMet && eval.Score >= eval.Threshold
	eval.Summary = summarize(previousData)
	return eval
}

func evaluateFieldPresent(c Criterion, previousData map[string]any, transcript string) CriterionResult {
	value, source := "", SourceMissing

	if raw, ok := previousData[c.Field]; ok {
		if s := stringify(raw); s != "" {
			value, source = s, SourcePreviousData
		}
	}
	if value == "" {
		if extracted := heuristicExtract(transcript, c.Field); extracted != "" {
			value, source = extracted, SourceHeuristic
		}
	}

	return CriterionResult{
		Key:      c.Key,
		Type:     TypeFieldPresent,
		Met:      value != "",
		Weight:   c.Weight,
		Required: c.Required,
		Evidence: map[string]any{
			"field":  c.Field,
			"source": source,
			"value":  truncate(value, maxEvidenceValueLen),
		},
	}
}

func evaluateLLM(c Criterion, llmResults map[string]LLMResult) CriterionResult {
	result := CriterionResult{
		Key:      c.Key,
		Type:     TypeLLM,
		Weight:   c.Weight,
		Required: c.Required,
	}

	verdict, ok := llmResults[c.Key]
	if !ok {
		result.Evidence = map[string]any{"reason": "llm_not_evaluated"}
		return result
	}

	result.Met = verdict.Met
	result.Evidence = map[string]any{
		"evidence":   truncate(verdict.Evidence, maxLLMEvidenceLen),
		"confidence": clamp01(verdict.Confidence),
	}
	return result
}

func score(results []CriterionResult) float64 {
	if len(results) == 0 {
		return 0
	}

	totalWeight, metWeight := 0.0, 0.0
	metCount := 0
	for _, r := range results {
		totalWeight += r.Weight
		if r.Met {
			metWeight += r.Weight
			metCount++
		}
	}
	if totalWeight > 0 {
		return metWeight / totalWeight
	}
	return float64(metCount) / float64(len(results))
}

func requiredMet(results []CriterionResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Required && !r.Met {
			return false
		}
	}
	return true
}

func summarize(previousData map[string]any) string {
	if len(previousData) == 0 {
		return ""
	}
	keys := make([]string, 0, len(previousData))
	for k := range previousData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := stringify(previousData[k])
		if v == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, truncate(v, maxSummaryFieldLen)))
	}
	return truncate(strings.Join(parts, " | "), maxSummaryLen)
}

var (
	budgetRe   = regexp.MustCompile(`(?i)(r\$\s*\d+[\d\.,]*)`)
	dateRe     = regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{2,4})`)
	locationRe = regexp.MustCompile(`(?i)(bairro|rua|avenida|av\.|cidade)\s+([\wÀ-ú][\wÀ-ú\s]{2,39})`)
)

// heuristicExtract pulls a likely value for the field from raw transcript
// text. The patterns target pt-BR sales conversations.
func heuristicExtract(transcript, field string) string {
	if transcript == "" {
		return ""
	}
	f := strings.ToLower(field)

	switch {
	case containsAny(f, "budget", "orcamento", "orçamento", "valor", "preco", "preço"):
		if m := budgetRe.FindStringSubmatch(transcript); m != nil {
			return strings.TrimSpace(m[1])
		}
	case containsAny(f, "date", "data", "prazo", "quando"):
		if m := dateRe.FindStringSubmatch(transcript); m != nil {
			return strings.TrimSpace(m[1])
		}
	case containsAny(f, "location", "local", "bairro", "cidade", "endereco", "endereço", "regiao", "região"):
		if m := locationRe.FindStringSubmatch(transcript); m != nil {
			return strings.TrimSpace(m[1] + " " + m[2])
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
