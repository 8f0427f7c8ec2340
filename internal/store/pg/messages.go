package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// MessageStore implements store.MessageStore.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Save(ctx context.Context, msg *store.Message) (uuid.UUID, error) {
	if msg.ID == uuid.Nil {
		msg.ID = store.GenNewID()
	}
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO core.messages
			(id, conversation_id, company_id, direction, content_type, body, channel_message_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING id`,
		msg.ID, msg.ConversationID, msg.CompanyID, msg.Direction, msg.ContentType,
		msg.Body, nilStr(msg.ChannelMessageID), jsonOrEmpty(msg.Metadata)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save message: %w", err)
	}
	return id, nil
}

// Delete removes a persisted message. Used to compensate a failed send so the
// history never shows text the lead did not receive.
func (s *MessageStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM core.messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ExistsChannelMessageID reports whether the provider message id was already
// persisted anywhere in the company, so a redelivery to another conversation
// still dedupes.
func (s *MessageStore) ExistsChannelMessageID(ctx context.Context, companyID uuid.UUID, channelMessageID string) (bool, error) {
	if channelMessageID == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM core.messages
			WHERE company_id = $1 AND channel_message_id = $2
		)`, companyID, channelMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check channel message id: %w", err)
	}
	return exists, nil
}

// ListRecent returns the newest limit messages in chronological order,
// skipping archived rows.
func (s *MessageStore) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, company_id, direction, content_type, body, channel_message_id, metadata, created_at
		FROM core.messages
		WHERE conversation_id = $1 AND NOT (metadata ? 'archived')
		ORDER BY created_at DESC
		LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		var (
			m         store.Message
			channelID sql.NullString
			metaRaw   []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.CompanyID, &m.Direction, &m.ContentType,
			&m.Body, &channelID, &metaRaw, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ChannelMessageID = derefStr(channelID)
		m.Metadata = unmarshalMap(metaRaw)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
