// Package memory covers the conversational memory layers: a short-term Redis
// cache of recent history, embedding-backed long-term facts, knowledge
// retrieval, and retention cleanup.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfganghq/centurion/internal/store"
)

const shortTermTTL = 60 * time.Second

// historyLimits are the limits the dispatch path reads with; invalidation
// clears all of them.
var historyLimits = []int{10, 15, 25}

// ShortTerm caches recent conversation history in Redis so the dispatch hot
// path avoids a DB read per turn.
type ShortTerm struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewShortTerm(rdb *redis.Client, logger *slog.Logger) *ShortTerm {
	return &ShortTerm{rdb: rdb, logger: logger}
}

func historyKey(conversationID uuid.UUID, limit int) string {
	return fmt.Sprintf("conv:%s:history:%d", conversationID, limit)
}

// Get returns the cached history, or nil on miss. Cache errors degrade to a
// miss.
func (s *ShortTerm) Get(ctx context.Context, conversationID uuid.UUID, limit int) []*store.Message {
	raw, err := s.rdb.Get(ctx, historyKey(conversationID, limit)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("shortterm.get_failed", "conversation_id", conversationID, "error", err)
		}
		return nil
	}
	var msgs []*store.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		s.logger.Warn("shortterm.decode_failed", "conversation_id", conversationID, "error", err)
		return nil
	}
	return msgs
}

// Set stores the history for one limit.
func (s *ShortTerm) Set(ctx context.Context, conversationID uuid.UUID, limit int, msgs []*store.Message) {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, historyKey(conversationID, limit), raw, shortTermTTL).Err(); err != nil {
		s.logger.Warn("shortterm.set_failed", "conversation_id", conversationID, "error", err)
	}
}

// Invalidate drops every cached limit for the conversation. Called after any
// message write.
func (s *ShortTerm) Invalidate(ctx context.Context, conversationID uuid.UUID) {
	keys := make([]string, 0, len(historyLimits))
	for _, limit := range historyLimits {
		keys = append(keys, historyKey(conversationID, limit))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("shortterm.invalidate_failed", "conversation_id", conversationID, "error", err)
	}
}
