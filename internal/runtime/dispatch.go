package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/bus"
	"github.com/wolfganghq/centurion/internal/channels"
	"github.com/wolfganghq/centurion/internal/events"
	"github.com/wolfganghq/centurion/internal/idempotency"
	"github.com/wolfganghq/centurion/internal/integrations"
	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/logging"
	"github.com/wolfganghq/centurion/internal/memory"
	"github.com/wolfganghq/centurion/internal/metrics"
	"github.com/wolfganghq/centurion/internal/qualification"
	"github.com/wolfganghq/centurion/internal/store"
	"github.com/wolfganghq/centurion/internal/tools"
)

// Dispatch tuning.
const (
	historyLimit          = 25
	historyLimitSummary   = 15
	defaultToolCallLimit  = 8
	defaultTemperature    = 0.3
	chatTimeout           = 30 * time.Second
	qualificationConsumer = "centurion:lead_qualification_events"
	qualificationTTL      = 7 * 24 * time.Hour
)

// Deterministic replies when the model cannot answer.
const (
	fallbackNeedFields   = "Para eu te ajudar melhor, preciso de algumas informações: %s."
	fallbackGeneric      = "Me conte um pouco mais sobre o que você precisa."
	fallbackEmptyReply   = "Perfeito! Pode me contar um pouco mais para eu te ajudar?"
	closingAfterHandoff  = "Perfeito! Vou encaminhar suas informações para um especialista e ele vai continuar o atendimento com você. Obrigado!"
	leadStateInactive    = "inactive"
)

// FollowupScheduler schedules the follow-up ladder after an outbound turn.
type FollowupScheduler interface {
	ScheduleForLead(ctx context.Context, lead *store.Lead) error
}

// HandoffService performs the CRM handoff for a qualified lead.
type HandoffService interface {
	Execute(ctx context.Context, lead *store.Lead) (*store.DealIndexEntry, error)
}

// Dispatcher drains a conversation's pending window into one model turn and
// everything that follows from it: reply, qualification, handoff, memory.
type Dispatcher struct {
	stores    store.Stores
	publisher bus.Publisher
	idem      *idempotency.Store
	shortTerm *memory.ShortTerm
	retriever *memory.Retriever
	extractor *memory.Extractor
	qual      *qualification.Service
	handoff   HandoffService
	registry  *tools.Registry
	providers *integrations.OpenAIResolver
	sender    *Sender
	followups FollowupScheduler
	logger    *slog.Logger
}

type DispatcherDeps struct {
	Stores    store.Stores
	Publisher bus.Publisher
	Idem      *idempotency.Store
	ShortTerm *memory.ShortTerm
	Retriever *memory.Retriever
	Extractor *memory.Extractor
	Qual      *qualification.Service
	Handoff   HandoffService
	Registry  *tools.Registry
	Providers *integrations.OpenAIResolver
	Sender    *Sender
	Followups FollowupScheduler
	Logger    *slog.Logger
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{
		stores:    deps.Stores,
		publisher: deps.Publisher,
		idem:      deps.Idem,
		shortTerm: deps.ShortTerm,
		retriever: deps.Retriever,
		extractor: deps.Extractor,
		qual:      deps.Qual,
		handoff:   deps.Handoff,
		registry:  deps.Registry,
		providers: deps.Providers,
		sender:    deps.Sender,
		followups: deps.Followups,
		logger:    deps.Logger,
	}
}

// Dispatch processes one due conversation. The caller holds the conversation
// lock.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *store.Conversation) error {
	correlationID := metaStr(conv.Metadata, "last_correlation_id")
	if correlationID == "" {
		correlationID = conv.ID.String()
	}
	causationID := metaStr(conv.Metadata, "last_event_id")

	ctx = logging.WithCorrelationID(ctx, correlationID)
	ctx = logging.WithCompanyID(ctx, conv.CompanyID.String())

	if err := d.stores.Conversations.MarkProcessing(ctx, conv.ID); err != nil {
		return fmt.Errorf("mark processing %s: %w", conv.ID, err)
	}

	if len(conv.PendingMessages) == 0 {
		return d.abort(ctx, conv.ID, "no pending messages")
	}

	instance, err := d.stores.Centurions.GetInstanceByID(ctx, conv.ChannelInstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return d.abort(ctx, conv.ID, "instance missing")
	}
	if err != nil {
		return err
	}
	if !instance.IsActive {
		return d.abort(ctx, conv.ID, "instance inactive")
	}

	lead, err := d.stores.Leads.Get(ctx, conv.LeadID)
	if errors.Is(err, store.ErrNotFound) {
		return d.abort(ctx, conv.ID, "lead missing")
	}
	if err != nil {
		return err
	}
	if lead.Phone == "" {
		return d.abort(ctx, conv.ID, "lead has no phone")
	}

	centurion, err := d.stores.Centurions.Get(ctx, conv.CenturionID)
	if err != nil {
		return fmt.Errorf("load centurion %s: %w", conv.CenturionID, err)
	}

	consolidated := strings.Join(conv.PendingMessages, "\n")
	history := d.loadHistory(ctx, conv)
	caps := channels.CapabilitiesFor(conv.ChannelType)

	provider, perr := d.providers.Provider(ctx, conv.CompanyID)
	if perr != nil && !errors.Is(perr, llm.ErrUnavailable) {
		d.logger.Warn("dispatch.provider_resolution_failed", "company_id", conv.CompanyID, "error", perr)
	}

	var retrieved memory.Context
	if provider != nil {
		retrieved = d.retriever.Retrieve(ctx, provider, conv.CompanyID, conv.LeadID, consolidated)
	}

	reply := d.generateReply(ctx, provider, centurion, conv, retrieved, history, consolidated, caps)

	cleaned, plan := ExtractMediaPlan(reply)
	if cleaned == "" && len(plan) == 0 {
		cleaned = fallbackEmptyReply
	}

	outbound := BuildOutbound(cleaned, plan, caps, centurion.ChunkingEnabled, centurion.ChunkMaxChars)
	if len(outbound) == 0 {
		outbound = []OutboundMessage{{ContentType: channels.ContentText, Body: fallbackEmptyReply}}
	}

	sentCount, err := d.deliver(ctx, conv, instance, lead, centurion, outbound, correlationID, causationID)
	if err != nil {
		return err
	}

	if err := d.stores.Conversations.TouchOutbound(ctx, conv.ID); err != nil {
		d.logger.Warn("dispatch.touch_outbound_failed", "conversation_id", conv.ID, "error", err)
	}
	if err := d.stores.Conversations.ClearPending(ctx, conv.ID); err != nil {
		return fmt.Errorf("clear pending %s: %w", conv.ID, err)
	}
	d.shortTerm.Invalidate(ctx, conv.ID)
	if err := d.stores.Leads.TouchOutboundNew(ctx, lead.ID); err != nil {
		d.logger.Warn("dispatch.lead_touch_failed", "lead_id", lead.ID, "error", err)
	}

	if caps.Followups && d.followups != nil {
		if err := d.followups.ScheduleForLead(ctx, lead); err != nil {
			d.logger.Warn("dispatch.followup_schedule_failed", "lead_id", lead.ID, "error", err)
		}
	}

	d.runQualification(ctx, provider, centurion, conv, instance, lead, history, consolidated, cleaned, correlationID, causationID, sentCount)

	if d.extractor != nil && provider != nil {
		go func(companyID, leadID uuid.UUID, userText, assistantText string) {
			bg, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			d.extractor.ExtractAndSave(bg, provider, companyID, leadID, userText, assistantText)
		}(conv.CompanyID, conv.LeadID, consolidated, cleaned)
	}

	return nil
}

// abort resets a conversation whose turn cannot proceed.
func (d *Dispatcher) abort(ctx context.Context, convID uuid.UUID, reason string) error {
	d.logger.Info("dispatch.aborted", "conversation_id", convID, "reason", reason)
	if err := d.stores.Conversations.ClearPending(ctx, convID); err != nil {
		return fmt.Errorf("clear pending on abort %s: %w", convID, err)
	}
	return nil
}

func (d *Dispatcher) loadHistory(ctx context.Context, conv *store.Conversation) []*store.Message {
	limit := historyLimit
	if hasSessionSummary(conv.Metadata) {
		limit = historyLimitSummary
	}

	if cached := d.shortTerm.Get(ctx, conv.ID, limit); cached != nil {
		return cached
	}
	history, err := d.stores.Messages.ListRecent(ctx, conv.ID, limit)
	if err != nil {
		d.logger.Warn("dispatch.history_load_failed", "conversation_id", conv.ID, "error", err)
		return nil
	}
	d.shortTerm.Set(ctx, conv.ID, limit, history)
	return history
}

// generateReply runs the model with tools, or falls back deterministically.
func (d *Dispatcher) generateReply(ctx context.Context, provider llm.Provider, centurion *store.Centurion, conv *store.Conversation, retrieved memory.Context, history []*store.Message, consolidated string, caps channels.Capabilities) string {
	if provider == nil {
		if len(centurion.RequiredFields) > 0 {
			return fmt.Sprintf(fallbackNeedFields, strings.Join(centurion.RequiredFields, ", "))
		}
		return fallbackGeneric
	}

	toolSet := d.registry.ForCenturion(ctx, conv.CompanyID, conv.CenturionID, caps.SupportsMedia())
	msgs := BuildPrompt(centurion.Prompt, retrieved, history, len(conv.PendingMessages), consolidated, caps.SupportsMedia())

	temperature := centurion.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	toolCallLimit := centurion.ToolCallLimit
	if toolCallLimit <= 0 {
		toolCallLimit = defaultToolCallLimit
	}

	for round := 0; ; round++ {
		callCtx, cancel := context.WithTimeout(ctx, chatTimeout)
		resp, err := provider.Chat(callCtx, llm.ChatRequest{
			Messages:    msgs,
			Tools:       toolSet.Definitions(),
			Temperature: temperature,
		})
		cancel()
		if err != nil {
			d.logger.Error("dispatch.chat_failed", "conversation_id", conv.ID, "round", round, "error", err)
			if len(centurion.RequiredFields) > 0 {
				return fmt.Sprintf(fallbackNeedFields, strings.Join(centurion.RequiredFields, ", "))
			}
			return fallbackGeneric
		}

		if len(resp.ToolCalls) == 0 || round >= toolCallLimit {
			return resp.Content
		}

		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := toolSet.Execute(ctx, call.Name, call.Arguments)
			encoded, err := json.Marshal(result)
			if err != nil {
				encoded = []byte(`{"ok":false,"error":"result encoding failed"}`)
			}
			d.logger.Info("dispatch.tool_executed",
				"conversation_id", conv.ID, "tool", call.Name, "ok", result.OK)
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    string(encoded),
			})
		}
	}
}

// deliver persists and sends each outbound message in order. A failed send
// deletes the just-persisted row so state never claims an unsent message.
func (d *Dispatcher) deliver(ctx context.Context, conv *store.Conversation, instance *store.ChannelInstance, lead *store.Lead, centurion *store.Centurion, outbound []OutboundMessage, correlationID, causationID string) (int, error) {
	delay := time.Duration(centurion.ChunkDelayMS) * time.Millisecond
	if centurion.ChunkDelayMS <= 0 {
		delay = defaultChunkDelayMS * time.Millisecond
	}

	sent := 0
	for i, msg := range outbound {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(delay):
			}
		}

		body := msg.Body
		if body == "" {
			body = msg.Caption
		}
		msgID, err := d.stores.Messages.Save(ctx, &store.Message{
			ID:             store.GenNewID(),
			ConversationID: conv.ID,
			CompanyID:      conv.CompanyID,
			Direction:      "outbound",
			ContentType:    msg.ContentType,
			Body:           body,
			Metadata: map[string]any{
				"correlation_id": correlationID,
				"chunk_index":    i,
				"asset_id":       msg.AssetID,
			},
		})
		if err != nil {
			return sent, fmt.Errorf("save outbound chunk %d: %w", i, err)
		}

		wire := WireMessage{Type: msg.ContentType, Text: msg.Body, AssetID: msg.AssetID, Caption: msg.Caption}
		ok, err := d.sender.Send(ctx, SendRequest{
			CompanyID:     conv.CompanyID,
			InstanceID:    instance.ExternalID,
			To:            lead.Phone,
			ChannelType:   conv.ChannelType,
			CorrelationID: correlationID,
			CausationID:   causationID,
			ChunkIndex:    i,
			Message:       wire,
		})
		if err != nil {
			if derr := d.stores.Messages.Delete(ctx, msgID); derr != nil {
				d.logger.Error("dispatch.compensation_failed", "message_id", msgID, "error", derr)
			}
			return sent, fmt.Errorf("send chunk %d: %w", i, err)
		}
		if !ok {
			// Duplicate claim: this chunk already went out in a previous run,
			// so the fresh row must not stand.
			if derr := d.stores.Messages.Delete(ctx, msgID); derr != nil {
				d.logger.Error("dispatch.compensation_failed", "message_id", msgID, "error", derr)
			}
			continue
		}
		sent++
	}
	return sent, nil
}

// runQualification evaluates the rule set over the full turn and drives the
// qualified path: event record, lead update, handoff, closing message.
func (d *Dispatcher) runQualification(ctx context.Context, provider llm.Provider, centurion *store.Centurion, conv *store.Conversation, instance *store.ChannelInstance, lead *store.Lead, history []*store.Message, consolidated, reply, correlationID, causationID string, sentCount int) {
	rules := qualification.ParseRules(centurion.QualificationRules)
	if len(rules.Criteria) == 0 && len(centurion.RequiredFields) > 0 {
		legacy, _ := json.Marshal(map[string]any{"required_fields": centurion.RequiredFields})
		rules = qualification.ParseRules(legacy)
	}
	if len(rules.Criteria) == 0 {
		return
	}

	transcript := buildTranscript(history, consolidated, reply)
	eval, enriched := d.qual.Evaluate(ctx, provider, rules, lead.QualificationData, transcript)

	recorded := d.recordQualification(ctx, conv.CompanyID, lead.ID, correlationID, eval, centurion.QualificationRules)
	if !recorded {
		return
	}

	if !eval.IsQualified || lead.IsQualified {
		if err := d.stores.Leads.UpdateQualification(ctx, lead.ID, eval.Score, enriched, lead.IsQualified || eval.IsQualified); err != nil {
			d.logger.Warn("dispatch.qualification_update_failed", "lead_id", lead.ID, "error", err)
		}
		return
	}

	if err := d.stores.Leads.UpdateQualification(ctx, lead.ID, eval.Score, enriched, true); err != nil {
		d.logger.Error("dispatch.qualification_update_failed", "lead_id", lead.ID, "error", err)
		return
	}
	metrics.LeadsQualifiedTotal.Inc()
	d.publishLeadQualified(ctx, conv, lead, eval, correlationID, causationID)

	if canceled, err := d.stores.Followups.CancelPending(ctx, lead.ID); err != nil {
		d.logger.Warn("dispatch.followup_cancel_failed", "lead_id", lead.ID, "error", err)
	} else if canceled > 0 {
		d.logger.Info("dispatch.followups_canceled", "lead_id", lead.ID, "count", canceled)
	}

	lead.IsQualified = true
	lead.QualificationData = enriched
	if d.handoff != nil {
		if _, err := d.handoff.Execute(ctx, lead); err != nil {
			d.logger.Error("dispatch.handoff_failed", "lead_id", lead.ID, "error", err)
		}
	}

	closingID, err := d.stores.Messages.Save(ctx, &store.Message{
		ID:             store.GenNewID(),
		ConversationID: conv.ID,
		CompanyID:      conv.CompanyID,
		Direction:      "outbound",
		ContentType:    channels.ContentText,
		Body:           closingAfterHandoff,
		Metadata: map[string]any{
			"correlation_id": correlationID,
			"chunk_index":    sentCount,
			"closing":        true,
		},
	})
	if err != nil {
		d.logger.Error("dispatch.closing_save_failed", "conversation_id", conv.ID, "error", err)
	} else {
		ok, err := d.sender.Send(ctx, SendRequest{
			CompanyID:     conv.CompanyID,
			InstanceID:    instance.ExternalID,
			To:            lead.Phone,
			ChannelType:   conv.ChannelType,
			CorrelationID: correlationID,
			CausationID:   causationID,
			ChunkIndex:    sentCount,
			Message:       WireMessage{Type: channels.ContentText, Text: closingAfterHandoff},
		})
		if err != nil {
			d.logger.Error("dispatch.closing_send_failed", "conversation_id", conv.ID, "error", err)
		}
		if err != nil || !ok {
			if derr := d.stores.Messages.Delete(ctx, closingID); derr != nil {
				d.logger.Error("dispatch.compensation_failed", "message_id", closingID, "error", derr)
			}
		}
	}
	d.shortTerm.Invalidate(ctx, conv.ID)

	if err := d.stores.Conversations.SetLeadState(ctx, conv.ID, leadStateInactive); err != nil {
		d.logger.Warn("dispatch.lead_state_failed", "conversation_id", conv.ID, "error", err)
	}
}

// recordQualification inserts the evaluation event once per (lead, turn).
func (d *Dispatcher) recordQualification(ctx context.Context, companyID, leadID uuid.UUID, correlationID string, eval qualification.Evaluation, rawRules json.RawMessage) bool {
	dedupeKey := leadID.String() + ":" + correlationID
	claimed, err := d.idem.Claim(ctx, companyID.String(), qualificationConsumer, dedupeKey, qualificationTTL, nil)
	if err != nil {
		d.logger.Warn("dispatch.qualification_claim_failed", "lead_id", leadID, "error", err)
		return false
	}
	if !claimed {
		return false
	}

	err = d.stores.Qualification.RecordEvent(ctx, companyID, leadID, correlationID, eval.Score, eval.IsQualified, eval.Results, qualification.Hash(rawRules))
	if err != nil {
		d.logger.Error("dispatch.qualification_record_failed", "lead_id", leadID, "error", err)
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := d.idem.Release(bg, companyID.String(), qualificationConsumer, dedupeKey); rerr != nil {
			d.logger.Warn("dispatch.qualification_release_failed", "lead_id", leadID, "error", rerr)
		}
		return false
	}
	return true
}

func (d *Dispatcher) publishLeadQualified(ctx context.Context, conv *store.Conversation, lead *store.Lead, eval qualification.Evaluation, correlationID, causationID string) {
	payload, err := leadQualifiedPayload(conv.CompanyID.String(), lead.ID.String(), eval)
	if err != nil {
		return
	}
	env := events.Build(events.TypeLeadQualified, conv.CompanyID.String(), correlationID, causationID, payload)
	if err := d.publisher.Publish(ctx, events.TypeLeadQualified, env); err != nil {
		d.logger.Warn("dispatch.lead_qualified_publish_failed", "lead_id", lead.ID, "error", err)
	}
}

// leadQualifiedPayload carries the met criterion keys under "criteria" so
// downstream consumers see the same shape every producer emits.
func leadQualifiedPayload(companyID, leadID string, eval qualification.Evaluation) (json.RawMessage, error) {
	met := make([]string, 0, len(eval.Results))
	for _, r := range eval.Results {
		if r.Met {
			met = append(met, r.Key)
		}
	}
	return json.Marshal(map[string]any{
		"company_id": companyID,
		"lead_id":    leadID,
		"score":      eval.Score,
		"criteria":   met,
		"summary":    eval.Summary,
	})
}

// buildTranscript flattens the turn for qualification: history, the pending
// burst, and the reply just produced.
func buildTranscript(history []*store.Message, consolidated, reply string) string {
	var b strings.Builder
	for _, m := range history {
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		if m.Direction == "outbound" {
			b.WriteString("Atendente: ")
		} else {
			b.WriteString("Cliente: ")
		}
		b.WriteString(m.Body)
		b.WriteString("\n")
	}
	b.WriteString("Cliente: ")
	b.WriteString(consolidated)
	if reply != "" {
		b.WriteString("\nAtendente: ")
		b.WriteString(reply)
	}
	return b.String()
}

func metaStr(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}

func hasSessionSummary(meta map[string]any) bool {
	session, ok := meta["agno_session"].(map[string]any)
	if !ok {
		return false
	}
	summary, _ := session["summary"].(string)
	return summary != ""
}
