package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfganghq/centurion/internal/llm"
)

const embeddingCacheTTL = 7 * 24 * time.Hour

// Embedder wraps a provider's embedding endpoint with a content-addressed
// Redis cache. Identical texts across leads and companies share entries.
type Embedder struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewEmbedder(rdb *redis.Client, logger *slog.Logger) *Embedder {
	return &Embedder{rdb: rdb, logger: logger}
}

func embeddingKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// Embed returns one vector per input, filling cache misses with a single
// batched provider call.
func (e *Embedder) Embed(ctx context.Context, provider llm.Provider, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	missing := make([]string, 0, len(inputs))
	missingIdx := make([]int, 0, len(inputs))

	for i, text := range inputs {
		if vec := e.cached(ctx, text); vec != nil {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}
	if provider == nil {
		return nil, llm.ErrUnavailable
	}

	vectors, err := provider.Embed(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(missing), err)
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedding count mismatch: want %d got %d", len(missing), len(vectors))
	}

	for j, vec := range vectors {
		out[missingIdx[j]] = vec
		e.put(ctx, missing[j], vec)
	}
	return out, nil
}

// EmbedOne is the single-input convenience used by retrieval.
func (e *Embedder) EmbedOne(ctx context.Context, provider llm.Provider, input string) ([]float32, error) {
	vecs, err := e.Embed(ctx, provider, []string{input})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) cached(ctx context.Context, text string) []float32 {
	raw, err := e.rdb.Get(ctx, embeddingKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			e.logger.Warn("embeddings.cache_get_failed", "error", err)
		}
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil
	}
	return vec
}

func (e *Embedder) put(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := e.rdb.Set(ctx, embeddingKey(text), raw, embeddingCacheTTL).Err(); err != nil {
		e.logger.Warn("embeddings.cache_set_failed", "error", err)
	}
}
