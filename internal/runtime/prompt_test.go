package runtime

import (
	"strings"
	"testing"

	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/memory"
	"github.com/wolfganghq/centurion/internal/store"
)

func msg(direction, body string) *store.Message {
	return &store.Message{Direction: direction, Body: body}
}

func TestBuildPrompt_DefaultsAndOrdering(t *testing.T) {
	history := []*store.Message{
		msg("inbound", "oi"),
		msg("outbound", "olá! como posso ajudar?"),
	}
	msgs := BuildPrompt("", memory.Context{}, history, 1, "quero um apartamento", false)

	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[0].Content, "SDR") {
		t.Fatalf("default system prompt missing: %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleUser || msgs[1].Content != "oi" {
		t.Fatalf("history order wrong: %+v", msgs[1])
	}
	if msgs[2].Role != llm.RoleAssistant {
		t.Fatalf("outbound should map to assistant: %+v", msgs[2])
	}
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleUser || last.Content != "quero um apartamento" {
		t.Fatalf("consolidated text must be the final user turn: %+v", last)
	}
}

func TestBuildPrompt_ContextBlocks(t *testing.T) {
	retrieved := memory.Context{
		Memories:  []*store.LeadMemory{{Summary: "Prefere bairro Pinheiros"}},
		Knowledge: []*store.KnowledgeChunk{{Title: "Tabela de preços", Content: "2 quartos a partir de R$ 500 mil"}},
	}
	msgs := BuildPrompt("Você é a Ana.", retrieved, nil, 1, "oi", true)
	system := msgs[0].Content

	if !strings.Contains(system, "<memoria_long_term>") || !strings.Contains(system, "- Prefere bairro Pinheiros") {
		t.Fatalf("memory block missing:\n%s", system)
	}
	if !strings.Contains(system, "<knowledge_base>") || !strings.Contains(system, "[Tabela de preços]") {
		t.Fatalf("knowledge block missing:\n%s", system)
	}
	if !strings.Contains(system, "media_search_assets") {
		t.Fatalf("media hint missing for media-capable channel:\n%s", system)
	}

	msgs = BuildPrompt("Você é a Ana.", memory.Context{}, nil, 1, "oi", false)
	if strings.Contains(msgs[0].Content, "media_search_assets") {
		t.Fatal("media hint should be absent on text-only channels")
	}
}

func TestTrimPendingTail(t *testing.T) {
	history := []*store.Message{
		msg("inbound", "oi"),
		msg("outbound", "olá"),
		msg("inbound", "quero"),
		msg("inbound", "um apê"),
	}

	// Single pending message: history untouched.
	if got := trimPendingTail(history, 1); len(got) != 4 {
		t.Fatalf("pendingCount=1 must not trim: %d", len(got))
	}

	// Two coalesced messages: the two trailing inbound turns drop.
	got := trimPendingTail(history, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(got))
	}
	if got[1].Direction != "outbound" {
		t.Fatalf("trim cut too deep: %+v", got[1])
	}

	// The trim never crosses an outbound turn.
	got = trimPendingTail(history, 5)
	if len(got) != 2 {
		t.Fatalf("trim must stop at the last outbound: %d", len(got))
	}
}

func TestBuildPrompt_SkipsEmptyHistoryBodies(t *testing.T) {
	history := []*store.Message{msg("inbound", "   "), msg("inbound", "oi")}
	msgs := BuildPrompt("p", memory.Context{}, history, 1, "x", false)
	if len(msgs) != 3 {
		t.Fatalf("blank history body should be skipped: %+v", msgs)
	}
}
