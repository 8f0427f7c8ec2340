package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// FollowupStore implements store.FollowupStore.
type FollowupStore struct {
	db *sql.DB
}

func NewFollowupStore(db *sql.DB) *FollowupStore {
	return &FollowupStore{db: db}
}

const ruleCols = `id, company_id, inactivity_hours, max_attempts, message_template,
	adapt_with_llm, instruction_prompt, is_active`

func scanRule(scan func(dest ...any) error) (*store.FollowupRule, error) {
	var (
		r           store.FollowupRule
		template    sql.NullString
		instruction sql.NullString
	)
	err := scan(&r.ID, &r.CompanyID, &r.InactivityHours, &r.MaxAttempts, &template,
		&r.AdaptWithLLM, &instruction, &r.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.MessageTemplate = derefStr(template)
	r.InstructionPrompt = derefStr(instruction)
	return &r, nil
}

// ActiveRules returns the company ladder ordered by inactivity offset.
func (s *FollowupStore) ActiveRules(ctx context.Context, companyID uuid.UUID) ([]*store.FollowupRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleCols+`
		FROM core.followup_rules
		WHERE company_id = $1 AND is_active = true
		ORDER BY inactivity_hours ASC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list followup rules: %w", err)
	}
	defer rows.Close()

	var out []*store.FollowupRule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *FollowupStore) GetRule(ctx context.Context, id uuid.UUID) (*store.FollowupRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleCols+` FROM core.followup_rules WHERE id = $1`, id)
	r, err := scanRule(row.Scan)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get followup rule: %w", err)
	}
	return r, err
}

// HasFutureScheduled reports whether the (lead, rule) pair already has a live
// future item, so each rung of the ladder gates independently.
func (s *FollowupStore) HasFutureScheduled(ctx context.Context, leadID, ruleID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM core.followup_queue
			WHERE lead_id = $1
			  AND rule_id = $2
			  AND status IN ('pending', 'processing')
			  AND scheduled_at > now()
		)`, leadID, ruleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check scheduled followups: %w", err)
	}
	return exists, nil
}

func (s *FollowupStore) CountSentAttempts(ctx context.Context, leadID, ruleID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM core.followup_queue
		WHERE lead_id = $1 AND rule_id = $2 AND status = 'sent'`, leadID, ruleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sent attempts: %w", err)
	}
	return count, nil
}

func (s *FollowupStore) Schedule(ctx context.Context, item *store.FollowupItem) error {
	if item.ID == uuid.Nil {
		item.ID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO core.followup_queue
			(id, company_id, lead_id, rule_id, attempt, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', now(), now())`,
		item.ID, item.CompanyID, item.LeadID, item.RuleID, item.Attempt, item.ScheduledAt)
	if err != nil {
		return fmt.Errorf("schedule followup: %w", err)
	}
	return nil
}

// ClaimDue atomically moves due pending items to processing and returns them.
// SKIP LOCKED keeps concurrent workers from double-claiming.
func (s *FollowupStore) ClaimDue(ctx context.Context, limit int) ([]*store.FollowupItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM core.followup_queue
			WHERE status = 'pending' AND scheduled_at <= now()
			ORDER BY scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE core.followup_queue q
		SET status = 'processing', updated_at = now()
		FROM due
		WHERE q.id = due.id
		RETURNING q.id, q.company_id, q.lead_id, q.rule_id, q.attempt, q.scheduled_at, q.status, q.created_at, q.updated_at`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("claim due followups: %w", err)
	}
	defer rows.Close()

	var out []*store.FollowupItem
	for rows.Next() {
		var item store.FollowupItem
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.LeadID, &item.RuleID, &item.Attempt,
			&item.ScheduledAt, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

func (s *FollowupStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.followup_queue SET status = 'sent', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark followup sent: %w", err)
	}
	return nil
}

func (s *FollowupStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.followup_queue
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark followup failed: %w", err)
	}
	return nil
}

// CancelPending cancels every pending item for the lead (called on inbound
// activity and on qualification).
func (s *FollowupStore) CancelPending(ctx context.Context, leadID uuid.UUID) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE core.followup_queue
		SET status = 'canceled', updated_at = now()
		WHERE lead_id = $1 AND status = 'pending'`, leadID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending followups: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
