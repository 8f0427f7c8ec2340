package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// CRMStore performs handoff writes into per-company CRM schemas.
type CRMStore struct {
	db *sql.DB
}

func NewCRMStore(db *sql.DB) *CRMStore {
	return &CRMStore{db: db}
}

// identPattern bounds every identifier interpolated into SQL. Schema and
// column names come from trusted config rows, but the write crosses schemas
// so the whitelist stays strict.
var identPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

// PrimaryCRM returns the company's primary CRM mapping.
func (s *CRMStore) PrimaryCRM(ctx context.Context, companyID uuid.UUID) (*store.CompanyCRM, error) {
	var crm store.CompanyCRM
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, schema_name, is_primary
		FROM core.company_crms
		WHERE company_id = $1 AND is_primary = true
		LIMIT 1`, companyID).Scan(&crm.ID, &crm.CompanyID, &crm.SchemaName, &crm.IsPrimary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("primary crm: %w", err)
	}
	return &crm, nil
}

// InsertDeal inserts into {schema}.deals and returns the new deal id. Field
// names are validated identifiers; values are bound parameters.
func (s *CRMStore) InsertDeal(ctx context.Context, schemaName string, fields map[string]any) (uuid.UUID, error) {
	schema, err := quoteIdent(schemaName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("crm schema: %w", err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := []string{"id"}
	placeholders := []string{"$1"}
	args := []any{store.GenNewID()}
	for _, name := range names {
		col, err := quoteIdent(name)
		if err != nil {
			return uuid.Nil, fmt.Errorf("deal column: %w", err)
		}
		args = append(args, fields[name])
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	q := fmt.Sprintf(`INSERT INTO %s.deals (%s) VALUES (%s) RETURNING id`,
		schema, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var id uuid.UUID
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("insert deal: %w", err)
	}
	return id, nil
}

// InsertDealIndex links a schema-local deal into the core index.
func (s *CRMStore) InsertDealIndex(ctx context.Context, companyID uuid.UUID, schemaName string, localDealID uuid.UUID) (*store.DealIndexEntry, error) {
	entry := store.DealIndexEntry{
		ID:          store.GenNewID(),
		CompanyID:   companyID,
		SchemaName:  schemaName,
		LocalDealID: localDealID,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core.deals_index (id, company_id, schema_name, local_deal_id)
		VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.CompanyID, entry.SchemaName, entry.LocalDealID)
	if err != nil {
		return nil, fmt.Errorf("insert deal index: %w", err)
	}
	return &entry, nil
}

// FindDealIndex looks up the core index row for a schema-local deal.
func (s *CRMStore) FindDealIndex(ctx context.Context, companyID uuid.UUID, schemaName string, localDealID uuid.UUID) (*store.DealIndexEntry, error) {
	var entry store.DealIndexEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, schema_name, local_deal_id
		FROM core.deals_index
		WHERE company_id = $1 AND schema_name = $2 AND local_deal_id = $3
		LIMIT 1`, companyID, schemaName, localDealID).
		Scan(&entry.ID, &entry.CompanyID, &entry.SchemaName, &entry.LocalDealID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find deal index: %w", err)
	}
	return &entry, nil
}
