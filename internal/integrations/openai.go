package integrations

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/config"
	"github.com/wolfganghq/centurion/internal/llm"
)

// OpenAIResolver layers per-company OpenAI credentials over the env defaults.
type OpenAIResolver struct {
	resolver *Resolver
	defaults config.OpenAIConfig
}

func NewOpenAIResolver(resolver *Resolver, defaults config.OpenAIConfig) *OpenAIResolver {
	return &OpenAIResolver{resolver: resolver, defaults: defaults}
}

// Provider returns a configured LLM provider for the company, or
// llm.ErrUnavailable when neither the company nor the environment carries an
// API key.
func (r *OpenAIResolver) Provider(ctx context.Context, companyID uuid.UUID) (llm.Provider, error) {
	cfg := llm.OpenAIConfig{
		APIKey:         r.defaults.APIKey,
		BaseURL:        r.defaults.BaseURL,
		ChatModel:      r.defaults.ChatModel,
		VisionModel:    r.defaults.VisionModel,
		STTModel:       r.defaults.STTModel,
		EmbeddingModel: r.defaults.EmbeddingModel,
	}

	// A company resolution failure falls back to env defaults rather than
	// taking the conversation down.
	if resolved, err := r.resolver.Resolve(ctx, companyID, ProviderOpenAI); err == nil && resolved != nil {
		if key := readStr(resolved.Secrets, "api_key"); key != "" {
			cfg.APIKey = key
			if v := readStr(resolved.Config, "base_url", "api_base_url"); v != "" {
				cfg.BaseURL = v
			}
			if v := readStr(resolved.Config, "chat_model"); v != "" {
				cfg.ChatModel = v
			}
			if v := readStr(resolved.Config, "vision_model"); v != "" {
				cfg.VisionModel = v
			}
			if v := readStr(resolved.Config, "stt_model"); v != "" {
				cfg.STTModel = v
			}
			if v := readStr(resolved.Config, "embedding_model"); v != "" {
				cfg.EmbeddingModel = v
			}
		}
	}

	provider, err := llm.NewOpenAI(cfg)
	if err != nil {
		// Keep the interface value nil so callers' nil checks hold.
		return nil, err
	}
	return provider, nil
}

func readStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}
