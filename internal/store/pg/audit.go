package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// AuditStore implements store.AuditStore.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) RecordToolCall(ctx context.Context, entry *store.ToolAuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core.audit_logs
			(id, company_id, centurion_id, tool_name, kind, request_id, correlation_id,
			 args, result, success, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		entry.ID, entry.CompanyID, nilUUID(&entry.CenturionID), entry.ToolName, entry.Kind,
		nilStr(entry.RequestID), nilStr(entry.CorrelationID),
		jsonOrEmpty(entry.Args), jsonOrEmpty(entry.Result),
		entry.Success, nilStr(entry.Error), entry.DurationMS)
	if err != nil {
		return fmt.Errorf("record tool call audit: %w", err)
	}
	return nil
}
