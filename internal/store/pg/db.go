// Package pg implements the store interfaces on Postgres via database/sql
// over the pgx stdlib driver.
package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wolfganghq/centurion/internal/secrets"
	"github.com/wolfganghq/centurion/internal/store"
)

// OpenDB opens a pooled connection to Postgres.
func OpenDB(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewStores creates all Postgres-backed stores over one pool. keyring may be
// nil when no encrypted columns will be read.
func NewStores(db *sql.DB, keyring *secrets.Keyring) *store.Stores {
	return &store.Stores{
		Conversations: NewConversationStore(db),
		Leads:         NewLeadStore(db),
		Messages:      NewMessageStore(db),
		Centurions:    NewCenturionStore(db),
		Followups:     NewFollowupStore(db),
		Qualification: NewQualificationStore(db),
		Tools:         NewToolStore(db, keyring),
		Media:         NewMediaStore(db),
		CRM:           NewCRMStore(db),
		Memory:        NewMemoryStore(db),
		Integrations:  NewIntegrationStore(db),
		Audit:         NewAuditStore(db),
	}
}

// --- scan/bind helpers ---

func nilStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefStr(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func nilUUID(id *uuid.UUID) any {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return *id
}

func nilTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func jsonOrEmpty(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func jsonOrEmptyArray(v any) []byte {
	if v == nil {
		return []byte("[]")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("[]")
	}
	return b
}

func unmarshalMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func unmarshalStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
