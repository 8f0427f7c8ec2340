package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wolfganghq/centurion/internal/bus"
	"github.com/wolfganghq/centurion/internal/channels"
	"github.com/wolfganghq/centurion/internal/events"
	"github.com/wolfganghq/centurion/internal/idempotency"
	"github.com/wolfganghq/centurion/internal/integrations"
	"github.com/wolfganghq/centurion/internal/logging"
	"github.com/wolfganghq/centurion/internal/memory"
	"github.com/wolfganghq/centurion/internal/metrics"
	"github.com/wolfganghq/centurion/internal/store"
)

const (
	inboundConsumer   = "centurion:message.received"
	inboundDedupeTTL  = 7 * 24 * time.Hour
	defaultDebounceMS = 3000
)

// Inbound consumes message.received events: it persists the turn, opens or
// extends the conversation's debounce window, and leaves dispatch to the
// debounce worker.
type Inbound struct {
	stores    store.Stores
	publisher bus.Publisher
	idem      *idempotency.Store
	enricher  *Enricher
	shortTerm *memory.ShortTerm
	providers *integrations.OpenAIResolver
	logger    *slog.Logger
}

func NewInbound(stores store.Stores, publisher bus.Publisher, idem *idempotency.Store, enricher *Enricher, shortTerm *memory.ShortTerm, providers *integrations.OpenAIResolver, logger *slog.Logger) *Inbound {
	return &Inbound{
		stores:    stores,
		publisher: publisher,
		idem:      idem,
		enricher:  enricher,
		shortTerm: shortTerm,
		providers: providers,
		logger:    logger,
	}
}

// Handle processes one raw message.received frame.
func (h *Inbound) Handle(ctx context.Context, payload string) error {
	env, err := events.Parse([]byte(payload), events.TypeMessageReceived)
	if err != nil {
		// Malformed frames are dropped, not retried.
		h.logger.Warn("inbound.envelope_rejected", "error", err)
		return nil
	}

	ctx = logging.WithCorrelationID(ctx, env.CorrelationID)
	ctx = logging.WithCompanyID(ctx, env.CompanyID)

	dedupeKey := events.TypeMessageReceived + ":" + env.CorrelationID
	claimed, err := h.idem.Claim(ctx, env.CompanyID, inboundConsumer, dedupeKey, inboundDedupeTTL, map[string]any{
		"event_id": env.ID,
	})
	if err != nil {
		return fmt.Errorf("claim inbound %s: %w", env.CorrelationID, err)
	}
	if !claimed {
		h.logger.Info("inbound.duplicate_suppressed", "correlation_id", env.CorrelationID)
		return nil
	}

	if err := h.process(ctx, env); err != nil {
		h.releaseClaim(env.CompanyID, dedupeKey)
		return err
	}
	return nil
}

func (h *Inbound) process(ctx context.Context, env *events.Envelope) error {
	instanceRef, err := peekInstanceID(env.Payload)
	if err != nil {
		h.logger.Warn("inbound.payload_rejected", "error", err)
		return nil
	}

	instance, err := h.stores.Centurions.GetInstance(ctx, instanceRef)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("inbound.unknown_instance", "instance_id", instanceRef)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load instance %s: %w", instanceRef, err)
	}

	channelType := instance.ChannelType
	if channelType == "" {
		channelType = channels.TypeWhatsApp
	}

	msg, err := channels.ParseInbound(env.Payload, channelType)
	if err != nil {
		h.logger.Warn("inbound.payload_rejected", "error", err)
		return nil
	}

	centurion, err := h.stores.Centurions.Get(ctx, instance.CenturionID)
	if err != nil {
		return fmt.Errorf("load centurion %s: %w", instance.CenturionID, err)
	}
	if !centurion.IsActive {
		h.logger.Info("inbound.centurion_inactive", "centurion_id", centurion.ID)
		return nil
	}

	lead, created, err := h.stores.Leads.GetOrCreate(ctx, instance.CompanyID, msg.From, msg.PushName)
	if err != nil {
		return fmt.Errorf("resolve lead: %w", err)
	}

	if canceled, err := h.stores.Followups.CancelPending(ctx, lead.ID); err != nil {
		h.logger.Warn("inbound.followup_cancel_failed", "lead_id", lead.ID, "error", err)
	} else if canceled > 0 {
		h.logger.Info("inbound.followups_canceled", "lead_id", lead.ID, "count", canceled)
	}

	conv, err := h.stores.Conversations.GetOrCreate(ctx, instance.CompanyID, lead.ID, centurion.ID, instance.ID, channelType)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	if msg.ChannelMessageID != "" {
		exists, err := h.stores.Messages.ExistsChannelMessageID(ctx, instance.CompanyID, msg.ChannelMessageID)
		if err != nil {
			return fmt.Errorf("check channel message id: %w", err)
		}
		if exists {
			h.logger.Info("inbound.channel_message_duplicate",
				"conversation_id", conv.ID, "channel_message_id", msg.ChannelMessageID)
			return nil
		}
	}

	provider, perr := h.providers.Provider(ctx, instance.CompanyID)
	if perr != nil {
		provider = nil
	}
	enriched := h.enricher.Enrich(ctx, provider, msg, centurion.CanProcessAudio)

	metadata := map[string]any{
		"event_id":       env.ID,
		"correlation_id": env.CorrelationID,
		"causation_id":   env.CausationID,
	}
	if len(msg.Raw) > 0 {
		metadata["raw"] = json.RawMessage(msg.Raw)
	}
	for k, v := range enriched.Metadata {
		metadata[k] = v
	}

	if _, err := h.stores.Messages.Save(ctx, &store.Message{
		ID:               store.GenNewID(),
		ConversationID:   conv.ID,
		CompanyID:        instance.CompanyID,
		Direction:        "inbound",
		ContentType:      msg.ContentType,
		Body:             enriched.Body,
		ChannelMessageID: msg.ChannelMessageID,
		Metadata:         metadata,
	}); err != nil {
		return fmt.Errorf("save inbound message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("inbound", channelType, msg.ContentType).Inc()

	if err := h.stores.Leads.TouchInbound(ctx, lead.ID); err != nil {
		h.logger.Warn("inbound.lead_touch_failed", "lead_id", lead.ID, "error", err)
	}
	h.shortTerm.Invalidate(ctx, conv.ID)

	if created {
		h.publishLeadCreated(ctx, env, lead, channelType)
	}

	waitMS := centurion.DebounceWaitMS
	if waitMS <= 0 {
		waitMS = defaultDebounceMS
	}
	debounceUntil := time.Now().UTC().Add(time.Duration(waitMS) * time.Millisecond)

	pendingCount, err := h.stores.Conversations.AppendPending(ctx, conv.ID, enriched.Body, debounceUntil, map[string]any{
		"last_event_id":       env.ID,
		"last_correlation_id": env.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("append pending: %w", err)
	}

	h.logger.Info("inbound.debounced",
		"conversation_id", conv.ID,
		"pending_count", pendingCount,
		"debounce_until", debounceUntil,
	)

	// Advisory: the debounce worker polls the DB either way.
	timerPayload, _ := json.Marshal(map[string]any{
		"conversation_id": conv.ID.String(),
		"lead_id":         lead.ID.String(),
		"instance_id":     instance.ExternalID,
		"debounce_until":  debounceUntil.Format(time.RFC3339Nano),
		"pending_count":   pendingCount,
	})
	timer := events.Build(events.TypeDebounceTimer, env.CompanyID, env.CorrelationID, env.ID, timerPayload)
	if err := h.publisher.Publish(ctx, events.TypeDebounceTimer, timer); err != nil {
		h.logger.Warn("inbound.timer_publish_failed", "conversation_id", conv.ID, "error", err)
	}

	return nil
}

func (h *Inbound) publishLeadCreated(ctx context.Context, env *events.Envelope, lead *store.Lead, channelType string) {
	payload, err := json.Marshal(map[string]any{
		"lead_id":    lead.ID.String(),
		"company_id": lead.CompanyID.String(),
		"channel":    channelType,
		"source":     "unknown",
	})
	if err != nil {
		return
	}
	out := events.Build(events.TypeLeadCreated, env.CompanyID, env.CorrelationID, env.ID, payload)
	if err := h.publisher.Publish(ctx, events.TypeLeadCreated, out); err != nil {
		h.logger.Warn("inbound.lead_created_publish_failed", "lead_id", lead.ID, "error", err)
		return
	}
	metrics.LeadsCreatedTotal.WithLabelValues(channelType).Inc()
}

func (h *Inbound) releaseClaim(companyID, dedupeKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.idem.Release(ctx, companyID, inboundConsumer, dedupeKey); err != nil {
		h.logger.Warn("inbound.release_failed", "dedupe_key", dedupeKey, "error", err)
	}
}

// peekInstanceID reads only the routing field so instance resolution can
// precede full payload validation.
func peekInstanceID(payload json.RawMessage) (string, error) {
	var probe struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if probe.InstanceID == "" {
		return "", fmt.Errorf("payload missing instance_id")
	}
	return probe.InstanceID, nil
}
