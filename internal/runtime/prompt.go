package runtime

import (
	"strings"

	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/memory"
	"github.com/wolfganghq/centurion/internal/store"
)

const defaultSystemPrompt = "Você é um SDR educado e objetivo."

// Prompt context caps.
const (
	maxPromptMemories  = 10
	maxPromptKnowledge = 8
)

// BuildPrompt assembles the chat request messages: system prompt with
// retrieved context, prior history, and the consolidated pending text as the
// final user turn.
func BuildPrompt(systemPrompt string, retrieved memory.Context, history []*store.Message, pendingCount int, consolidated string, mediaCapable bool) []llm.Message {
	system := strings.TrimSpace(systemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}

	if block := memoriesBlock(retrieved.Memories); block != "" {
		system += "\n\n" + block
	}
	if block := knowledgeBlock(retrieved.Knowledge); block != "" {
		system += "\n\n" + block
	}
	if mediaCapable {
		system += "\n\nPara enviar um arquivo de mídia, use a ferramenta media_search_assets e inclua na resposta um bloco ```media``` com o asset_id retornado."
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}

	for _, m := range trimPendingTail(history, pendingCount) {
		role := llm.RoleUser
		if m.Direction == "outbound" {
			role = llm.RoleAssistant
		}
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Body})
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: consolidated})
	return msgs
}

// trimPendingTail drops the trailing inbound turns that are already carried
// in the consolidated text, so a coalesced burst is not presented twice.
func trimPendingTail(history []*store.Message, pendingCount int) []*store.Message {
	if pendingCount <= 1 {
		return history
	}
	remaining := pendingCount
	cut := len(history)
	for i := len(history) - 1; i >= 0 && remaining > 0; i-- {
		if history[i].Direction != "inbound" {
			break
		}
		cut = i
		remaining--
	}
	return history[:cut]
}

func memoriesBlock(memories []*store.LeadMemory) string {
	if len(memories) == 0 {
		return ""
	}
	if len(memories) > maxPromptMemories {
		memories = memories[:maxPromptMemories]
	}
	var b strings.Builder
	b.WriteString("<memoria_long_term>\n")
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m.Summary)
		b.WriteString("\n")
	}
	b.WriteString("</memoria_long_term>")
	return b.String()
}

func knowledgeBlock(chunks []*store.KnowledgeChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	if len(chunks) > maxPromptKnowledge {
		chunks = chunks[:maxPromptKnowledge]
	}
	var b strings.Builder
	b.WriteString("<knowledge_base>\n")
	for _, c := range chunks {
		b.WriteString("[")
		b.WriteString(c.Title)
		b.WriteString("] ")
		b.WriteString(c.Content)
		b.WriteString("\n")
	}
	b.WriteString("</knowledge_base>")
	return b.String()
}
