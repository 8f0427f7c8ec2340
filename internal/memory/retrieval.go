package memory

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/store"
)

// Retrieval tuning. Distances are cosine; lower is closer.
const (
	memoryTopK        = 5
	memoryMaxDistance = 0.35
	knowledgeTopK     = 5
	knowledgeMaxDist  = 0.5
)

// Retriever resolves the context block for a dispatch: long-term memories
// for the lead plus knowledge-base chunks for the company, both by vector
// similarity against the incoming text.
type Retriever struct {
	memories store.MemoryStore
	embedder *Embedder
	logger   *slog.Logger
}

func NewRetriever(memories store.MemoryStore, embedder *Embedder, logger *slog.Logger) *Retriever {
	return &Retriever{memories: memories, embedder: embedder, logger: logger}
}

// Context is the retrieved material handed to the prompt builder.
type Context struct {
	Memories  []*store.LeadMemory
	Knowledge []*store.KnowledgeChunk
}

// Retrieve embeds the query once and searches both stores. Retrieval is
// best-effort: on any failure the dispatch proceeds without that block.
func (r *Retriever) Retrieve(ctx context.Context, provider llm.Provider, companyID, leadID uuid.UUID, query string) Context {
	var out Context
	if query == "" || provider == nil {
		return out
	}

	vec, err := r.embedder.EmbedOne(ctx, provider, query)
	if err != nil {
		r.logger.Warn("retrieval.embed_failed", "lead_id", leadID, "error", err)
		return out
	}

	mems, err := r.memories.SearchMemories(ctx, leadID, vec, memoryTopK, memoryMaxDistance)
	if err != nil {
		r.logger.Warn("retrieval.memories_failed", "lead_id", leadID, "error", err)
	} else {
		out.Memories = mems
	}

	chunks, err := r.memories.SearchKnowledge(ctx, companyID, vec, knowledgeTopK, knowledgeMaxDist)
	if err != nil {
		r.logger.Warn("retrieval.knowledge_failed", "company_id", companyID, "error", err)
	} else {
		out.Knowledge = chunks
	}

	return out
}
