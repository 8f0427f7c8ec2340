package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// MemoryStore persists long-term lead memories (pgvector) and knowledge
// retrieval, plus the retention sweeps run by the cleanup worker.
type MemoryStore struct {
	db *sql.DB
}

func NewMemoryStore(db *sql.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// formatVector renders a pgvector literal. Values are bound as text and cast
// with ::vector in SQL; the driver has no native vector type.
func formatVector(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%.8f", v)
	}
	b.WriteByte(']')
	return b.String()
}

// SaveMemory stores one extracted fact with its embedding.
func (s *MemoryStore) SaveMemory(ctx context.Context, mem *store.LeadMemory, embedding []float32) error {
	if mem.ID == uuid.Nil {
		mem.ID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core.lead_memories (id, company_id, lead_id, summary, category, facts, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, now())`,
		mem.ID, mem.CompanyID, mem.LeadID, mem.Summary, nilStr(mem.Category),
		jsonOrEmpty(mem.Facts), formatVector(embedding))
	if err != nil {
		return fmt.Errorf("save lead memory: %w", err)
	}
	return nil
}

// HasSummary reports whether an identical summary already exists for the
// lead (dedup before embedding).
func (s *MemoryStore) HasSummary(ctx context.Context, leadID uuid.UUID, summary string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM core.lead_memories WHERE lead_id = $1 AND summary = $2)`,
		leadID, summary).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check memory summary: %w", err)
	}
	return exists, nil
}

// SearchMemories returns the lead's closest memories by cosine distance.
func (s *MemoryStore) SearchMemories(ctx context.Context, leadID uuid.UUID, embedding []float32, limit int, maxDistance float64) ([]*store.LeadMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, lead_id, summary, category, facts, created_at
		FROM core.lead_memories
		WHERE lead_id = $1 AND embedding <=> $2::vector <= $3
		ORDER BY embedding <=> $2::vector ASC
		LIMIT $4`,
		leadID, formatVector(embedding), maxDistance, limit)
	if err != nil {
		return nil, fmt.Errorf("search lead memories: %w", err)
	}
	defer rows.Close()

	var out []*store.LeadMemory
	for rows.Next() {
		var (
			m        store.LeadMemory
			category sql.NullString
			factsRaw []byte
		)
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.LeadID, &m.Summary, &category, &factsRaw, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Category = derefStr(category)
		m.Facts = unmarshalMap(factsRaw)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SearchKnowledge returns the closest chunks from ready knowledge documents.
func (s *MemoryStore) SearchKnowledge(ctx context.Context, companyID uuid.UUID, embedding []float32, limit int, maxDistance float64) ([]*store.KnowledgeChunk, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, d.title, c.content, c.embedding <=> $2::vector AS distance
		FROM core.knowledge_chunks c
		JOIN core.knowledge_documents d ON d.id = c.document_id
		WHERE d.company_id = $1 AND d.status = 'ready'
		  AND c.embedding <=> $2::vector <= $3
		ORDER BY distance ASC
		LIMIT $4`,
		companyID, formatVector(embedding), maxDistance, limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var out []*store.KnowledgeChunk
	for rows.Next() {
		var k store.KnowledgeChunk
		if err := rows.Scan(&k.ID, &k.Title, &k.Content, &k.Distance); err != nil {
			return nil, err
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

// ArchiveStaleMessages tags messages older than the cutoff in conversations
// with no recent activity. Archived rows drop out of history listings.
func (s *MemoryStore) ArchiveStaleMessages(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE core.messages m
		SET metadata = metadata || '{"archived": true}'::jsonb
		FROM core.conversations c
		WHERE m.conversation_id = c.id
		  AND NOT (m.metadata ? 'archived')
		  AND m.created_at < now() - $1 * interval '1 second'
		  AND c.updated_at < now() - $1 * interval '1 second'`,
		int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("archive stale messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneSessionBlobs drops cached session summaries older than the cutoff.
func (s *MemoryStore) PruneSessionBlobs(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE core.conversations
		SET metadata = metadata - 'agno_session'
		WHERE metadata ? 'agno_session'
		  AND updated_at < now() - $1 * interval '1 second'`,
		int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("prune session blobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneMemories deletes long-term memories past the retention window.
func (s *MemoryStore) PruneMemories(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM core.lead_memories
		WHERE created_at < now() - $1 * interval '1 second'`,
		int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("prune lead memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
