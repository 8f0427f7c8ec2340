package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wolfganghq/centurion/internal/bus"
	"github.com/wolfganghq/centurion/internal/events"
	"github.com/wolfganghq/centurion/internal/idempotency"
	"github.com/wolfganghq/centurion/internal/metrics"
)

const (
	senderConsumer = "centurion:message.sent"
	sendDedupeTTL  = 7 * 24 * time.Hour
)

// WireMessage is the payload shape the channel gateways consume.
type WireMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	AssetID string `json:"asset_id,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Sender publishes message.sent events with per-chunk idempotency and a
// global outbound rate cap.
type Sender struct {
	bus     bus.Publisher
	idem    *idempotency.Store
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewSender(publisher bus.Publisher, idem *idempotency.Store, logger *slog.Logger) *Sender {
	return &Sender{
		bus:     publisher,
		idem:    idem,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		logger:  logger,
	}
}

// SendRequest carries one outbound chunk.
type SendRequest struct {
	CompanyID     uuid.UUID
	InstanceID    string
	To            string
	ChannelType   string
	CorrelationID string
	CausationID   string
	ChunkIndex    int
	Message       WireMessage
}

// Send publishes the chunk unless an identical (correlation, chunk) pair was
// already sent. Returns false without error on a duplicate.
func (s *Sender) Send(ctx context.Context, req SendRequest) (bool, error) {
	dedupeKey := fmt.Sprintf("%s:%d", req.CorrelationID, req.ChunkIndex)
	claimed, err := s.idem.Claim(ctx, req.CompanyID.String(), senderConsumer, dedupeKey, sendDedupeTTL, nil)
	if err != nil {
		return false, fmt.Errorf("claim send %s: %w", dedupeKey, err)
	}
	if !claimed {
		s.logger.Info("sender.duplicate_suppressed",
			"correlation_id", req.CorrelationID, "chunk_index", req.ChunkIndex)
		return false, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.release(req.CompanyID, dedupeKey)
		return false, err
	}

	payload, err := json.Marshal(map[string]any{
		"instance_id": req.InstanceID,
		"to":          req.To,
		"messages":    []WireMessage{req.Message},
		"raw": map[string]any{
			"chunk_index": req.ChunkIndex,
		},
	})
	if err != nil {
		s.release(req.CompanyID, dedupeKey)
		return false, fmt.Errorf("encode send payload: %w", err)
	}

	env := events.Build(events.TypeMessageSent, req.CompanyID.String(), req.CorrelationID, req.CausationID, payload)
	if err := s.bus.Publish(ctx, events.TypeMessageSent, env); err != nil {
		s.release(req.CompanyID, dedupeKey)
		return false, err
	}

	metrics.MessagesTotal.WithLabelValues("outbound", req.ChannelType, req.Message.Type).Inc()
	return true, nil
}

// release frees the claim after a failed send so a retry can go through.
// Uses a fresh context so cancellation cannot leak the claim.
func (s *Sender) release(companyID uuid.UUID, dedupeKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.idem.Release(ctx, companyID.String(), senderConsumer, dedupeKey); err != nil {
		s.logger.Warn("sender.release_failed", "dedupe_key", dedupeKey, "error", err)
	}
}
