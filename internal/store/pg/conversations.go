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

// ConversationStore implements store.ConversationStore.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

const conversationCols = `id, company_id, lead_id, centurion_id, channel_instance_id, channel_type,
	lead_state, debounce_state, debounce_until, pending_messages, metadata, last_outbound_at,
	created_at, updated_at`

func (s *ConversationStore) scanRow(row *sql.Row) (*store.Conversation, error) {
	var (
		c           store.Conversation
		pendingRaw  []byte
		metadataRaw []byte
		debounceAt  sql.NullTime
		outboundAt  sql.NullTime
		leadState   sql.NullString
	)
	err := row.Scan(&c.ID, &c.CompanyID, &c.LeadID, &c.CenturionID, &c.ChannelInstanceID, &c.ChannelType,
		&leadState, &c.DebounceState, &debounceAt, &pendingRaw, &metadataRaw, &outboundAt,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.LeadState = derefStr(leadState)
	if debounceAt.Valid {
		c.DebounceUntil = &debounceAt.Time
	}
	if outboundAt.Valid {
		c.LastOutboundAt = &outboundAt.Time
	}
	c.PendingMessages = unmarshalStrings(pendingRaw)
	c.Metadata = unmarshalMap(metadataRaw)
	return &c, nil
}

// GetOrCreate returns the most recent active conversation for the lead on the
// instance, creating one when none exists.
func (s *ConversationStore) GetOrCreate(ctx context.Context, companyID, leadID, centurionID, instanceID uuid.UUID, channelType string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationCols+`
		FROM core.conversations
		WHERE company_id = $1 AND lead_id = $2 AND channel_instance_id = $3
		  AND lead_state IS DISTINCT FROM 'inactive'
		ORDER BY created_at DESC
		LIMIT 1`, companyID, leadID, instanceID)
	conv, err := s.scanRow(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	id := store.GenNewID()
	row = s.db.QueryRowContext(ctx, `
		INSERT INTO core.conversations
			(id, company_id, lead_id, centurion_id, channel_instance_id, channel_type,
			 lead_state, debounce_state, pending_messages, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', 'idle', '[]', '{}', now(), now())
		RETURNING `+conversationCols,
		id, companyID, leadID, centurionID, instanceID, channelType)
	conv, err = s.scanRow(row)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM core.conversations WHERE id = $1`, id)
	conv, err := s.scanRow(row)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, err
}

// AppendPending atomically appends text to the pending buffer, moves the
// debounce deadline, flips the state to waiting, and merges metadataPatch.
// Returns the resulting pending count.
func (s *ConversationStore) AppendPending(ctx context.Context, id uuid.UUID, text string, debounceUntil time.Time, metadataPatch map[string]any) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE core.conversations
		SET pending_messages = pending_messages || to_jsonb($2::text),
		    debounce_state = 'waiting',
		    debounce_until = $3,
		    metadata = metadata || $4::jsonb,
		    updated_at = now()
		WHERE id = $1
		RETURNING jsonb_array_length(pending_messages)`,
		id, text, debounceUntil, jsonOrEmpty(metadataPatch)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("append pending: %w", err)
	}
	return count, nil
}

func (s *ConversationStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.conversations
		SET debounce_state = 'processing', debounce_until = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

func (s *ConversationStore) ClearPending(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.conversations
		SET pending_messages = '[]', debounce_state = 'idle', debounce_until = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	return nil
}

// FindDue returns conversations whose debounce window has elapsed.
func (s *ConversationStore) FindDue(ctx context.Context, limit int) ([]*store.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationCols+`
		FROM core.conversations
		WHERE debounce_state = 'waiting' AND debounce_until <= now()
		ORDER BY debounce_until ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("find due conversations: %w", err)
	}
	defer rows.Close()

	var out []*store.Conversation
	for rows.Next() {
		var (
			c           store.Conversation
			pendingRaw  []byte
			metadataRaw []byte
			debounceAt  sql.NullTime
			outboundAt  sql.NullTime
			leadState   sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.LeadID, &c.CenturionID, &c.ChannelInstanceID, &c.ChannelType,
			&leadState, &c.DebounceState, &debounceAt, &pendingRaw, &metadataRaw, &outboundAt,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.LeadState = derefStr(leadState)
		if debounceAt.Valid {
			c.DebounceUntil = &debounceAt.Time
		}
		if outboundAt.Valid {
			c.LastOutboundAt = &outboundAt.Time
		}
		c.PendingMessages = unmarshalStrings(pendingRaw)
		c.Metadata = unmarshalMap(metadataRaw)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// RecoverStuck resets conversations left in processing beyond stuckAfter.
// Rows with pending messages go back to waiting with an immediate deadline;
// empty ones return to idle.
func (s *ConversationStore) RecoverStuck(ctx context.Context, stuckAfter time.Duration, limit int) (int, int, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, jsonb_array_length(pending_messages)
		FROM core.conversations
		WHERE debounce_state = 'processing'
		  AND updated_at < now() - $1 * interval '1 second'
		ORDER BY updated_at ASC
		LIMIT $2`, int(stuckAfter.Seconds()), limit)
	if err != nil {
		return 0, 0, fmt.Errorf("find stuck conversations: %w", err)
	}
	defer rows.Close()

	type stuck struct {
		id      uuid.UUID
		pending int
	}
	var found []stuck
	for rows.Next() {
		var st stuck
		if err := rows.Scan(&st.id, &st.pending); err != nil {
			return 0, 0, err
		}
		found = append(found, st)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	var waiting, idled int
	for _, st := range found {
		if st.pending > 0 {
			_, err = s.db.ExecContext(ctx, `
				UPDATE core.conversations
				SET debounce_state = 'waiting', debounce_until = now(), updated_at = now()
				WHERE id = $1 AND debounce_state = 'processing'`, st.id)
			if err == nil {
				waiting++
			}
		} else {
			_, err = s.db.ExecContext(ctx, `
				UPDATE core.conversations
				SET debounce_state = 'idle', pending_messages = '[]', debounce_until = NULL, updated_at = now()
				WHERE id = $1 AND debounce_state = 'processing'`, st.id)
			if err == nil {
				idled++
			}
		}
		if err != nil {
			return waiting, idled, fmt.Errorf("recover conversation %s: %w", st.id, err)
		}
	}
	return waiting, idled, nil
}

func (s *ConversationStore) SetLeadState(ctx context.Context, id uuid.UUID, state string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.conversations SET lead_state = $2, updated_at = now() WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("set lead state: %w", err)
	}
	return nil
}

func (s *ConversationStore) TouchOutbound(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.conversations SET last_outbound_at = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch outbound: %w", err)
	}
	return nil
}

func (s *ConversationStore) FindLatestByLead(ctx context.Context, companyID, leadID uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationCols+`
		FROM core.conversations
		WHERE company_id = $1 AND lead_id = $2
		ORDER BY created_at DESC
		LIMIT 1`, companyID, leadID)
	conv, err := s.scanRow(row)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("latest conversation: %w", err)
	}
	return conv, err
}
