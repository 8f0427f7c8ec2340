// Package followups schedules and sends inactivity follow-ups: a ladder of
// rules ordered by quiet hours, with per-rule attempt caps.
package followups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wolfganghq/centurion/internal/channels"
	"github.com/wolfganghq/centurion/internal/integrations"
	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/memory"
	"github.com/wolfganghq/centurion/internal/runtime"
	"github.com/wolfganghq/centurion/internal/store"
)

const (
	claimBatchSize   = 10
	adaptTimeout     = 20 * time.Second
	adaptHistorySize = 20
)

// terminalLifecycles never receive follow-ups.
var terminalLifecycles = map[string]struct{}{
	store.LifecycleQualified:   {},
	store.LifecycleHandoffDone: {},
	store.LifecycleClosedLost:  {},
}

// Service owns the follow-up queue.
type Service struct {
	stores    store.Stores
	sender    *runtime.Sender
	providers *integrations.OpenAIResolver
	retriever *memory.Retriever
	logger    *slog.Logger
}

func NewService(stores store.Stores, sender *runtime.Sender, providers *integrations.OpenAIResolver, retriever *memory.Retriever, logger *slog.Logger) *Service {
	return &Service{
		stores:    stores,
		sender:    sender,
		providers: providers,
		retriever: retriever,
		logger:    logger,
	}
}

// ScheduleForLead queues one item per eligible rung of the ladder. A rung is
// skipped when its attempts are exhausted or it already has a live future
// item; the rest of the ladder still schedules. No-ops when the lead is
// terminal or has no contact timestamp.
func (s *Service) ScheduleForLead(ctx context.Context, lead *store.Lead) error {
	if lead.LastContactAt == nil {
		return nil
	}
	if _, terminal := terminalLifecycles[lead.Lifecycle]; terminal || lead.IsQualified {
		return nil
	}

	rules, err := s.stores.Followups.ActiveRules(ctx, lead.CompanyID)
	if err != nil {
		return fmt.Errorf("load followup rules: %w", err)
	}

	scheduledAny := false
	for _, rule := range rules {
		sent, err := s.stores.Followups.CountSentAttempts(ctx, lead.ID, rule.ID)
		if err != nil {
			return fmt.Errorf("count attempts for rule %s: %w", rule.ID, err)
		}
		if sent >= rule.MaxAttempts {
			continue
		}

		queued, err := s.stores.Followups.HasFutureScheduled(ctx, lead.ID, rule.ID)
		if err != nil {
			return fmt.Errorf("check scheduled followups: %w", err)
		}
		if queued {
			continue
		}

		item := &store.FollowupItem{
			ID:          store.GenNewID(),
			CompanyID:   lead.CompanyID,
			LeadID:      lead.ID,
			RuleID:      rule.ID,
			Attempt:     sent + 1,
			ScheduledAt: lead.LastContactAt.Add(time.Duration(rule.InactivityHours * float64(time.Hour))),
			Status:      store.FollowupPending,
		}
		if err := s.stores.Followups.Schedule(ctx, item); err != nil {
			return fmt.Errorf("schedule followup: %w", err)
		}
		scheduledAny = true
		s.logger.Info("followups.scheduled",
			"lead_id", lead.ID, "rule_id", rule.ID,
			"attempt", item.Attempt, "scheduled_at", item.ScheduledAt)
	}

	if scheduledAny {
		if err := s.stores.Leads.SetLastContact(ctx, lead.ID, *lead.LastContactAt, store.LifecycleFollowUpPending); err != nil {
			s.logger.Warn("followups.lifecycle_update_failed", "lead_id", lead.ID, "error", err)
		}
	}
	return nil
}

// Run polls for due items until ctx is canceled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			items, err := s.stores.Followups.ClaimDue(ctx, claimBatchSize)
			if err != nil {
				s.logger.Error("followups.claim_failed", "error", err)
				continue
			}
			for _, item := range items {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.handle(ctx, item)
			}
		}
	}
}

// handle sends one claimed item. Every dead end marks the item failed with
// its reason so the row explains itself.
func (s *Service) handle(ctx context.Context, item *store.FollowupItem) {
	fail := func(reason string) {
		if err := s.stores.Followups.MarkFailed(ctx, item.ID, reason); err != nil {
			s.logger.Error("followups.mark_failed_error", "item_id", item.ID, "error", err)
		}
		s.logger.Info("followups.failed", "item_id", item.ID, "reason", reason)
	}

	rule, err := s.stores.Followups.GetRule(ctx, item.RuleID)
	if err != nil || !rule.IsActive {
		fail("rule inactive")
		return
	}

	lead, err := s.stores.Leads.Get(ctx, item.LeadID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && lead.Phone == "") {
		fail("lead missing or has no phone")
		return
	}
	if err != nil {
		fail("lead load failed: " + err.Error())
		return
	}
	if lead.IsQualified {
		fail("Lead already qualified")
		return
	}

	conv, err := s.stores.Conversations.FindLatestByLead(ctx, item.CompanyID, item.LeadID)
	if err != nil {
		fail("no conversation for lead")
		return
	}
	if !channels.IsKnown(conv.ChannelType) {
		fail("unsupported channel " + conv.ChannelType)
		return
	}

	instance, err := s.stores.Centurions.GetInstanceByID(ctx, conv.ChannelInstanceID)
	if err != nil || !instance.IsActive {
		instance, err = s.stores.Centurions.FindActiveInstance(ctx, item.CompanyID, conv.ChannelType)
		if err != nil {
			fail("no active channel instance")
			return
		}
	}

	text := s.composeMessage(ctx, rule, conv, lead)
	if strings.TrimSpace(text) == "" {
		fail("empty followup message")
		return
	}

	correlationID := item.ID.String()
	msgID, err := s.stores.Messages.Save(ctx, &store.Message{
		ID:             store.GenNewID(),
		ConversationID: conv.ID,
		CompanyID:      item.CompanyID,
		Direction:      "outbound",
		ContentType:    channels.ContentText,
		Body:           text,
		Metadata: map[string]any{
			"correlation_id": correlationID,
			"followup_id":    item.ID.String(),
			"rule_id":        rule.ID.String(),
			"attempt":        item.Attempt,
		},
	})
	if err != nil {
		fail("persist failed: " + err.Error())
		return
	}

	if _, err := s.sender.Send(ctx, runtime.SendRequest{
		CompanyID:     item.CompanyID,
		InstanceID:    instance.ExternalID,
		To:            lead.Phone,
		ChannelType:   conv.ChannelType,
		CorrelationID: correlationID,
		CausationID:   correlationID,
		ChunkIndex:    0,
		Message:       runtime.WireMessage{Type: channels.ContentText, Text: text},
	}); err != nil {
		if derr := s.stores.Messages.Delete(ctx, msgID); derr != nil {
			s.logger.Error("followups.compensation_failed", "message_id", msgID, "error", derr)
		}
		fail("send failed: " + err.Error())
		return
	}

	if err := s.stores.Followups.MarkSent(ctx, item.ID); err != nil {
		s.logger.Error("followups.mark_sent_failed", "item_id", item.ID, "error", err)
		return
	}

	now := time.Now().UTC()
	if err := s.stores.Leads.SetLastContact(ctx, lead.ID, now, store.LifecycleFollowUpSent); err != nil {
		s.logger.Warn("followups.lifecycle_update_failed", "lead_id", lead.ID, "error", err)
	}
	s.logger.Info("followups.sent", "item_id", item.ID, "lead_id", lead.ID, "attempt", item.Attempt)

	if item.Attempt < rule.MaxAttempts {
		next := &store.FollowupItem{
			ID:          store.GenNewID(),
			CompanyID:   item.CompanyID,
			LeadID:      item.LeadID,
			RuleID:      rule.ID,
			Attempt:     item.Attempt + 1,
			ScheduledAt: now.Add(time.Duration(rule.InactivityHours * float64(time.Hour))),
			Status:      store.FollowupPending,
		}
		if err := s.stores.Followups.Schedule(ctx, next); err != nil {
			s.logger.Error("followups.reschedule_failed", "lead_id", lead.ID, "error", err)
			return
		}
		if err := s.stores.Leads.SetLastContact(ctx, lead.ID, now, store.LifecycleFollowUpPending); err != nil {
			s.logger.Warn("followups.lifecycle_update_failed", "lead_id", lead.ID, "error", err)
		}
	}
}

// composeMessage returns the rule template, or a model-personalized variant
// when the rule opts in. Adaptation failures fall back to the template.
func (s *Service) composeMessage(ctx context.Context, rule *store.FollowupRule, conv *store.Conversation, lead *store.Lead) string {
	if !rule.AdaptWithLLM {
		return rule.MessageTemplate
	}

	provider, err := s.providers.Provider(ctx, conv.CompanyID)
	if err != nil || provider == nil {
		return rule.MessageTemplate
	}

	history, err := s.stores.Messages.ListRecent(ctx, conv.ID, adaptHistorySize)
	if err != nil {
		history = nil
	}

	var transcript strings.Builder
	for _, m := range history {
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		if m.Direction == "outbound" {
			transcript.WriteString("Atendente: ")
		} else {
			transcript.WriteString("Cliente: ")
		}
		transcript.WriteString(m.Body)
		transcript.WriteString("\n")
	}

	retrieved := s.retriever.Retrieve(ctx, provider, conv.CompanyID, lead.ID, transcript.String())

	system := rule.InstructionPrompt
	if strings.TrimSpace(system) == "" {
		system = "Você escreve mensagens curtas de follow-up para retomar conversas de vendas inativas. " +
			"Seja cordial e direto, sem pressionar."
	}
	if centurion, cerr := s.stores.Centurions.Get(ctx, conv.CenturionID); cerr == nil && strings.TrimSpace(centurion.Prompt) != "" {
		system = centurion.Prompt + "\n\n" + system
	}
	system += "\n\nMensagem base: " + rule.MessageTemplate
	if len(retrieved.Memories) > 0 {
		var facts []string
		for _, m := range retrieved.Memories {
			facts = append(facts, "- "+m.Summary)
		}
		system += "\n\nFatos sobre o cliente:\n" + strings.Join(facts, "\n")
	}

	callCtx, cancel := context.WithTimeout(ctx, adaptTimeout)
	defer cancel()
	resp, err := provider.Chat(callCtx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: "Conversa até agora:\n" + transcript.String() + "\nEscreva a mensagem de follow-up."},
		},
		Temperature: 0.3,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			s.logger.Warn("followups.adapt_failed", "rule_id", rule.ID, "error", err)
		}
		return rule.MessageTemplate
	}
	return strings.TrimSpace(resp.Content)
}
