package runtime

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/wolfganghq/centurion/internal/channels"
)

// Chunking defaults when the bot config leaves them unset.
const (
	defaultChunkMaxChars = 280
	defaultChunkDelayMS  = 1500
	maxMediaPerReply     = 5
	maxMediaCaptionLen   = 800
)

// OutboundMessage is one message to persist and send, in order.
type OutboundMessage struct {
	ContentType string
	Body        string
	AssetID     string
	Caption     string
}

// MediaPlanItem is one media reference the model asked to send.
type MediaPlanItem struct {
	AssetID string
	Type    string
	Caption string
}

var (
	mediaBlockRe  = regexp.MustCompile("(?s)```media\\s*(.*?)```")
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
	validMediaTyp = map[string]struct{}{
		channels.ContentAudio:    {},
		channels.ContentImage:    {},
		channels.ContentVideo:    {},
		channels.ContentDocument: {},
	}
)

// ExtractMediaPlan pulls ```media``` fenced blocks out of the model reply.
// Returns the cleaned text and at most five valid plan items; malformed
// blocks are dropped silently.
func ExtractMediaPlan(reply string) (string, []MediaPlanItem) {
	var plan []MediaPlanItem

	for _, match := range mediaBlockRe.FindAllStringSubmatch(reply, -1) {
		raw := strings.TrimSpace(match[1])
		if raw == "" {
			continue
		}
		for _, item := range decodeMediaBlock(raw) {
			if len(plan) >= maxMediaPerReply {
				break
			}
			plan = append(plan, item)
		}
	}

	cleaned := mediaBlockRe.ReplaceAllString(reply, "")
	cleaned = manyNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned), plan
}

func decodeMediaBlock(raw string) []MediaPlanItem {
	var objects []map[string]any

	var single map[string]any
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		objects = append(objects, single)
	} else {
		var list []map[string]any
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil
		}
		objects = list
	}

	var items []MediaPlanItem
	for _, obj := range objects {
		assetID, _ := obj["asset_id"].(string)
		if assetID == "" {
			assetID, _ = obj["id"].(string)
		}
		mediaType, _ := obj["type"].(string)
		if assetID == "" {
			continue
		}
		if _, ok := validMediaTyp[mediaType]; !ok {
			continue
		}
		caption, _ := obj["caption"].(string)
		if len(caption) > maxMediaCaptionLen {
			caption = caption[:maxMediaCaptionLen]
		}
		items = append(items, MediaPlanItem{AssetID: assetID, Type: mediaType, Caption: caption})
	}
	return items
}

// ChunkText splits a reply into send-sized chunks on sentence boundaries,
// packing sentences greedily and hard-splitting any single run that still
// exceeds the budget.
func ChunkText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = defaultChunkMaxChars
	}
	if len([]rune(text)) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current []rune
	for _, sentence := range splitSentences(text) {
		runes := []rune(sentence)
		if len(current) > 0 && len(current)+1+len(runes) > maxChars {
			chunks = append(chunks, string(current))
			current = nil
		}
		if len(runes) > maxChars {
			if len(current) > 0 {
				chunks = append(chunks, string(current))
				current = nil
			}
			for len(runes) > maxChars {
				chunks = append(chunks, string(runes[:maxChars]))
				runes = runes[maxChars:]
			}
			current = runes
			continue
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, runes...)
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}

// splitSentences breaks on whitespace that follows sentence punctuation.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Consume trailing punctuation runs ("?!", "...").
		j := i
		for j+1 < len(runes) && (runes[j+1] == '.' || runes[j+1] == '!' || runes[j+1] == '?') {
			j++
		}
		if j+1 >= len(runes) {
			break
		}
		if runes[j+1] == ' ' || runes[j+1] == '\n' || runes[j+1] == '\t' {
			s := strings.TrimSpace(string(runes[start : j+1]))
			if s != "" {
				sentences = append(sentences, s)
			}
			i = j + 1
			start = j + 1
		} else {
			i = j
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// BuildOutbound turns the model reply into the ordered message list: text
// chunks first, then planned media the channel can carry. Audio goes out
// without caption.
func BuildOutbound(reply string, plan []MediaPlanItem, caps channels.Capabilities, chunkingEnabled bool, maxChars int) []OutboundMessage {
	var out []OutboundMessage

	if reply != "" {
		if chunkingEnabled {
			for _, chunk := range ChunkText(reply, maxChars) {
				out = append(out, OutboundMessage{ContentType: channels.ContentText, Body: chunk})
			}
		} else {
			out = append(out, OutboundMessage{ContentType: channels.ContentText, Body: reply})
		}
	}

	for _, item := range plan {
		if !caps.SupportsContent(item.Type) {
			continue
		}
		msg := OutboundMessage{ContentType: item.Type, AssetID: item.AssetID}
		if item.Type != channels.ContentAudio {
			msg.Caption = item.Caption
		}
		out = append(out, msg)
	}

	return out
}
