package qualification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wolfganghq/centurion/internal/llm"
)

const llmTimeout = 20 * time.Second

// Service layers model-assisted extraction and criteria judgment over the
// deterministic engine. Any model failure degrades to the deterministic
// result instead of failing the run.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// Evaluate runs the full pass: extract missing field values from the
// transcript, judge llm-typed criteria, then score deterministically.
// The returned map is previousData enriched with extracted values.
func (s *Service) Evaluate(ctx context.Context, provider llm.Provider, rules Rules, previousData map[string]any, transcript string) (Evaluation, map[string]any) {
	data := make(map[string]any, len(previousData))
	for k, v := range previousData {
		data[k] = v
	}

	var llmResults map[string]LLMResult
	if provider != nil && transcript != "" {
		if extracted := s.extractFields(ctx, provider, rules, data, transcript); len(extracted) > 0 {
			for k, v := range extracted {
				if _, exists := data[k]; !exists {
					data[k] = v
				}
			}
		}
		llmResults = s.judgeCriteria(ctx, provider, rules, transcript)
	}

	return Evaluate(rules, data, transcript, llmResults), data
}

// extractFields asks the model for values of field_present criteria that the
// lead data does not cover yet.
func (s *Service) extractFields(ctx context.Context, provider llm.Provider, rules Rules, data map[string]any, transcript string) map[string]any {
	missing := make([]string, 0, len(rules.Criteria))
	for _, c := range rules.Criteria {
		if c.Type != TypeFieldPresent {
			continue
		}
		if v, ok := data[c.Field]; ok && stringify(v) != "" {
			continue
		}
		missing = append(missing, c.Field)
	}
	if len(missing) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	system := "Você extrai dados de qualificação de conversas de vendas. " +
		"Responda apenas com um objeto JSON mapeando cada campo para o valor encontrado na conversa. " +
		"Omita campos sem informação. Campos: " + strings.Join(missing, ", ")

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: transcript},
		},
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		s.logger.Warn("qualification.extraction_failed", "error", err)
		return nil
	}

	var extracted map[string]any
	if err := json.Unmarshal([]byte(resp.Content), &extracted); err != nil {
		s.logger.Warn("qualification.extraction_unparseable", "error", err)
		return nil
	}

	out := make(map[string]any, len(extracted))
	for k, v := range extracted {
		if stringify(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// judgeCriteria asks the model for a met/evidence/confidence verdict per
// llm-typed criterion.
func (s *Service) judgeCriteria(ctx context.Context, provider llm.Provider, rules Rules, transcript string) map[string]LLMResult {
	type promptCriterion struct {
		Key    string `json:"key"`
		Prompt string `json:"prompt"`
		Label  string `json:"label,omitempty"`
	}

	criteria := make([]promptCriterion, 0, len(rules.Criteria))
	for _, c := range rules.Criteria {
		if c.Type != TypeLLM {
			continue
		}
		criteria = append(criteria, promptCriterion{Key: c.Key, Prompt: c.Prompt, Label: c.Label})
	}
	if len(criteria) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	spec, err := json.Marshal(criteria)
	if err != nil {
		return nil
	}

	system := fmt.Sprintf("Você avalia critérios de qualificação de leads com base na conversa. "+
		"Para cada critério, decida se foi atendido. "+
		"Responda apenas com um objeto JSON no formato "+
		`{"<key>": {"met": bool, "evidence": "trecho da conversa", "confidence": 0.0-1.0}}. `+
		"Critérios: %s", spec)

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: transcript},
		},
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		s.logger.Warn("qualification.criteria_judgment_failed", "error", err)
		return nil
	}

	var raw map[string]struct {
		Met        bool    `json:"met"`
		Evidence   string  `json:"evidence"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &raw); err != nil {
		s.logger.Warn("qualification.criteria_judgment_unparseable", "error", err)
		return nil
	}

	out := make(map[string]LLMResult, len(raw))
	for key, v := range raw {
		out[key] = LLMResult{Met: v.Met, Evidence: v.Evidence, Confidence: v.Confidence}
	}
	return out
}
