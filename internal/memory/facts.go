package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/store"
)

// Fact categories.
const (
	CategoryPersonal    = "personal"
	CategoryPreference  = "preference"
	CategoryRequirement = "requirement"
	CategoryHistory     = "history"
)

var validCategories = map[string]struct{}{
	CategoryPersonal:    {},
	CategoryPreference:  {},
	CategoryRequirement: {},
	CategoryHistory:     {},
}

// Fact is one extracted long-term statement about a lead.
type Fact struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Extractor pulls durable facts out of conversation turns and persists them
// with embeddings for later retrieval.
type Extractor struct {
	memories store.MemoryStore
	embedder *Embedder
	logger   *slog.Logger
}

func NewExtractor(memories store.MemoryStore, embedder *Embedder, logger *slog.Logger) *Extractor {
	return &Extractor{memories: memories, embedder: embedder, logger: logger}
}

// ExtractAndSave mines facts from the turn and stores the new ones. Runs
// after the reply is already out, so every failure is logged and swallowed.
func (x *Extractor) ExtractAndSave(ctx context.Context, provider llm.Provider, companyID, leadID uuid.UUID, userText, assistantText string) {
	facts := x.extract(ctx, provider, userText, assistantText)
	if len(facts) == 0 {
		return
	}

	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = f.Text
	}
	vectors, err := x.embedder.Embed(ctx, provider, texts)
	if err != nil {
		x.logger.Warn("facts.embed_failed", "lead_id", leadID, "error", err)
		return
	}

	for i, f := range facts {
		exists, err := x.memories.HasSummary(ctx, leadID, f.Text)
		if err != nil {
			x.logger.Warn("facts.dedupe_check_failed", "lead_id", leadID, "error", err)
			continue
		}
		if exists {
			continue
		}
		mem := &store.LeadMemory{
			ID:        store.GenNewID(),
			CompanyID: companyID,
			LeadID:    leadID,
			Summary:   f.Text,
			Category:  f.Category,
			CreatedAt: time.Now().UTC(),
		}
		if err := x.memories.SaveMemory(ctx, mem, vectors[i]); err != nil {
			x.logger.Warn("facts.save_failed", "lead_id", leadID, "error", err)
		}
	}
}

func (x *Extractor) extract(ctx context.Context, provider llm.Provider, userText, assistantText string) []Fact {
	var facts []Fact
	if provider != nil {
		facts = x.extractLLM(ctx, provider, userText, assistantText)
	}
	if len(facts) == 0 {
		facts = extractHeuristic(userText)
	}
	return dedupeFacts(facts)
}

func (x *Extractor) extractLLM(ctx context.Context, provider llm.Provider, userText, assistantText string) []Fact {
	system := "Você extrai fatos duradouros sobre o cliente a partir da conversa. " +
		"Responda apenas com um array JSON de objetos " +
		`{"text": "fato curto", "category": "personal|preference|requirement|history"}. ` +
		"Ignore saudações e conversa fiada. Array vazio se não houver fatos."

	transcript := "Cliente: " + userText
	if assistantText != "" {
		transcript += "\nAtendente: " + assistantText
	}

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: transcript},
		},
		Temperature: 0.1,
	})
	if err != nil {
		x.logger.Warn("facts.extract_llm_failed", "error", err)
		return nil
	}

	content := strings.TrimSpace(resp.Content)
	if start := strings.Index(content, "["); start >= 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			content = content[start : end+1]
		}
	}

	var facts []Fact
	if err := json.Unmarshal([]byte(content), &facts); err != nil {
		x.logger.Warn("facts.extract_unparseable", "error", err)
		return nil
	}

	out := facts[:0]
	for _, f := range facts {
		f.Text = strings.TrimSpace(f.Text)
		if f.Text == "" {
			continue
		}
		if _, ok := validCategories[f.Category]; !ok {
			f.Category = CategoryHistory
		}
		out = append(out, f)
	}
	return out
}

var (
	emailRe  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe  = regexp.MustCompile(`\+?\d{2}[\s\-]?\(?\d{2}\)?[\s\-]?\d{4,5}[\s\-]?\d{4}`)
	moneyRe  = regexp.MustCompile(`(?i)r\$\s*\d+[\d\.,]*`)
	dayRe    = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`)
)

// extractHeuristic is the no-model fallback: contact details and hard
// figures mentioned in the user turn.
func extractHeuristic(userText string) []Fact {
	var facts []Fact
	if m := emailRe.FindString(userText); m != "" {
		facts = append(facts, Fact{Text: "Email: " + m, Category: CategoryPersonal})
	}
	if m := phoneRe.FindString(userText); m != "" {
		facts = append(facts, Fact{Text: "Telefone: " + m, Category: CategoryPersonal})
	}
	if m := moneyRe.FindString(userText); m != "" {
		facts = append(facts, Fact{Text: "Orçamento mencionado: " + m, Category: CategoryRequirement})
	}
	if m := dayRe.FindString(userText); m != "" {
		facts = append(facts, Fact{Text: "Data mencionada: " + m, Category: CategoryRequirement})
	}
	return facts
}

func dedupeFacts(facts []Fact) []Fact {
	seen := make(map[string]struct{}, len(facts))
	out := facts[:0]
	for _, f := range facts {
		key := f.Category + ":" + strings.ToLower(f.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}
