package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// QualificationStore records qualification evaluations.
type QualificationStore struct {
	db *sql.DB
}

func NewQualificationStore(db *sql.DB) *QualificationStore {
	return &QualificationStore{db: db}
}

// RecordEvent appends one evaluation row. Callers guard duplicates with an
// idempotency claim keyed on (lead, correlation).
func (s *QualificationStore) RecordEvent(ctx context.Context, companyID, leadID uuid.UUID, correlationID string, score float64, qualified bool, results any, rulesHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core.lead_qualification_events
			(id, company_id, lead_id, correlation_id, score, is_qualified, results, rules_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		store.GenNewID(), companyID, leadID, correlationID, score, qualified,
		jsonOrEmptyArray(results), nilStr(rulesHash))
	if err != nil {
		return fmt.Errorf("record qualification event: %w", err)
	}
	return nil
}
