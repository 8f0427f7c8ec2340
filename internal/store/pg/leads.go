package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// LeadStore implements store.LeadStore.
type LeadStore struct {
	db *sql.DB
}

func NewLeadStore(db *sql.DB) *LeadStore {
	return &LeadStore{db: db}
}

const leadCols = `id, company_id, phone, name, email, lifecycle, is_qualified, qualified_at,
	qualification_data, pixel_config_id, last_contact_at, created_at, updated_at`

func scanLead(scan func(dest ...any) error) (*store.Lead, error) {
	var (
		l           store.Lead
		name        sql.NullString
		email       sql.NullString
		qualifiedAt sql.NullTime
		qualRaw     []byte
		pixelID     uuid.NullUUID
		contactAt   sql.NullTime
	)
	err := scan(&l.ID, &l.CompanyID, &l.Phone, &name, &email, &l.Lifecycle, &l.IsQualified,
		&qualifiedAt, &qualRaw, &pixelID, &contactAt, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Name = derefStr(name)
	l.Email = derefStr(email)
	l.QualificationData = unmarshalMap(qualRaw)
	if qualifiedAt.Valid {
		l.QualifiedAt = &qualifiedAt.Time
	}
	if pixelID.Valid {
		l.PixelConfigID = &pixelID.UUID
	}
	if contactAt.Valid {
		l.LastContactAt = &contactAt.Time
	}
	return &l, nil
}

// GetOrCreate finds a lead by (company, phone) or inserts a new one, picking
// the company's active pixel config for attribution. The bool reports whether
// the lead was created.
func (s *LeadStore) GetOrCreate(ctx context.Context, companyID uuid.UUID, phone, name string) (*store.Lead, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadCols+` FROM core.leads WHERE company_id = $1 AND phone = $2 LIMIT 1`,
		companyID, phone)
	lead, err := scanLead(row.Scan)
	if err == nil {
		return lead, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("load lead: %w", err)
	}

	id := store.GenNewID()
	row = s.db.QueryRowContext(ctx, `
		INSERT INTO core.leads (id, company_id, phone, name, lifecycle, is_qualified, qualification_data, pixel_config_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'new', false, '{}',
			(SELECT id FROM core.pixel_configs WHERE company_id = $2 AND is_active = true ORDER BY created_at DESC LIMIT 1),
			now(), now())
		ON CONFLICT (company_id, phone) DO UPDATE SET updated_at = now()
		RETURNING `+leadCols,
		id, companyID, phone, nilStr(name))
	lead, err = scanLead(row.Scan)
	if err != nil {
		return nil, false, fmt.Errorf("create lead: %w", err)
	}
	// A concurrent insert may have won the conflict; created only when our id
	// survived.
	return lead, lead.ID == id, nil
}

func (s *LeadStore) Get(ctx context.Context, id uuid.UUID) (*store.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadCols+` FROM core.leads WHERE id = $1`, id)
	lead, err := scanLead(row.Scan)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, err
}

// TouchInbound updates last_contact_at and advances the lifecycle: leads in a
// proactive or follow-up state become proactive_replied, other non-terminal
// leads become contacted.
func (s *LeadStore) TouchInbound(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.leads
		SET last_contact_at = now(),
		    updated_at = now(),
		    lifecycle = CASE
		        WHEN lifecycle IN ('follow_up_pending', 'follow_up_sent', 'proactive_contacted') THEN 'proactive_replied'
		        WHEN lifecycle NOT IN ('qualified', 'handoff_done', 'closed_lost') THEN 'contacted'
		        ELSE lifecycle
		    END
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch inbound: %w", err)
	}
	return nil
}

// TouchOutboundNew marks a never-contacted lead as proactively contacted.
func (s *LeadStore) TouchOutboundNew(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.leads
		SET lifecycle = 'proactive_contacted', updated_at = now()
		WHERE id = $1 AND lifecycle = 'new'`, id)
	if err != nil {
		return fmt.Errorf("touch outbound: %w", err)
	}
	return nil
}

// UpdateQualification records the latest score and, when qualified, moves the
// lifecycle forward without regressing terminal states. qualified_at is
// stamped on the first false-to-true transition and never cleared.
func (s *LeadStore) UpdateQualification(ctx context.Context, id uuid.UUID, score float64, data map[string]any, qualified bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.leads
		SET is_qualified = $2,
		    qualified_at = CASE
		        WHEN $2 AND qualified_at IS NULL THEN now()
		        ELSE qualified_at
		    END,
		    qualification_data = qualification_data || $3::jsonb,
		    lifecycle = CASE
		        WHEN $2 AND lifecycle NOT IN ('handoff_done', 'closed_lost') THEN 'qualified'
		        ELSE lifecycle
		    END,
		    updated_at = now()
		WHERE id = $1`,
		id, qualified, jsonOrEmpty(mergeScore(data, score)))
	if err != nil {
		return fmt.Errorf("update qualification: %w", err)
	}
	return nil
}

func mergeScore(data map[string]any, score float64) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["score"] = score
	return out
}

// MergeQualificationData patches qualification_data and optionally sets the
// lifecycle (empty string leaves it untouched).
func (s *LeadStore) MergeQualificationData(ctx context.Context, id uuid.UUID, patch map[string]any, lifecycle string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.leads
		SET qualification_data = qualification_data || $2::jsonb,
		    lifecycle = COALESCE(NULLIF($3, ''), lifecycle),
		    updated_at = now()
		WHERE id = $1`,
		id, jsonOrEmpty(patch), lifecycle)
	if err != nil {
		return fmt.Errorf("merge qualification data: %w", err)
	}
	return nil
}

func (s *LeadStore) SetLastContact(ctx context.Context, id uuid.UUID, at time.Time, lifecycle string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.leads
		SET last_contact_at = $2,
		    lifecycle = COALESCE(NULLIF($3, ''), lifecycle),
		    updated_at = now()
		WHERE id = $1`, id, at, lifecycle)
	if err != nil {
		return fmt.Errorf("set last contact: %w", err)
	}
	return nil
}
