package channels

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
)

// Inbound is a channel-agnostic view of one received message.
type Inbound struct {
	InstanceID       string
	ChannelMessageID string
	From             string
	PushName         string
	ContentType      string
	Body             string
	Command          string
	MediaURL         string
	MediaMimeType    string
	Raw              json.RawMessage
}

type inboundPayload struct {
	InstanceID       string          `json:"instance_id"`
	ChannelMessageID string          `json:"channel_message_id"`
	From             string          `json:"from"`
	PushName         string          `json:"push_name"`
	ContentType      string          `json:"content_type"`
	Body             string          `json:"body"`
	MediaURL         string          `json:"media_url"`
	MediaMimeType    string          `json:"media_mime_type"`
	Raw              json.RawMessage `json:"raw"`
}

// ParseInbound decodes the message.received payload. Telegram instances ship
// the raw bot-API update, which is normalized here; other channels arrive
// pre-normalized from their gateways.
func ParseInbound(payload json.RawMessage, channelType string) (*Inbound, error) {
	var p inboundPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode inbound payload: %w", err)
	}
	if p.InstanceID == "" {
		return nil, fmt.Errorf("inbound payload missing instance_id")
	}

	if channelType == TypeTelegram && len(p.Raw) > 0 && p.From == "" {
		msg, err := parseTelegramUpdate(p.Raw)
		if err != nil {
			return nil, err
		}
		msg.InstanceID = p.InstanceID
		msg.Raw = p.Raw
		if strings.HasPrefix(msg.Body, "/") {
			if fields := strings.Fields(msg.Body); len(fields) > 0 {
				msg.Command = fields[0]
			}
		}
		return msg, nil
	}

	if p.From == "" {
		return nil, fmt.Errorf("inbound payload missing sender")
	}
	if p.ContentType == "" {
		p.ContentType = ContentText
	}
	out := &Inbound{
		InstanceID:       p.InstanceID,
		ChannelMessageID: p.ChannelMessageID,
		From:             normalizePhone(p.From),
		PushName:         p.PushName,
		ContentType:      p.ContentType,
		Body:             p.Body,
		MediaURL:         p.MediaURL,
		MediaMimeType:    p.MediaMimeType,
		Raw:              p.Raw,
	}

	switch channelType {
	case TypeInstagram:
		if out.Body == "" {
			out.Body = instagramSyntheticBody(p.Raw)
		}
	case TypeTelegram:
		if strings.HasPrefix(out.Body, "/") {
			if fields := strings.Fields(out.Body); len(fields) > 0 {
				out.Command = fields[0]
			}
		}
	}

	return out, nil
}

// instagramSyntheticBody gives story and mention events a textual body so
// they still open a turn. Provider webhooks mark these in several shapes.
func instagramSyntheticBody(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	truthy := func(keys ...string) bool {
		for _, k := range keys {
			v, ok := probe[k]
			if !ok || v == nil {
				continue
			}
			if b, isBool := v.(bool); isBool && !b {
				continue
			}
			return true
		}
		return false
	}
	if truthy("is_story", "story", "story_mention") {
		return "[instagram] story mention"
	}
	if truthy("is_mention", "mention") {
		return "[instagram] mention"
	}
	return ""
}

// parseTelegramUpdate maps a bot-API update onto the normalized shape.
func parseTelegramUpdate(raw json.RawMessage) (*Inbound, error) {
	var update telego.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		return nil, fmt.Errorf("telegram update carries no message")
	}

	out := &Inbound{
		ChannelMessageID: strconv.Itoa(msg.MessageID),
		From:             strconv.FormatInt(msg.Chat.ID, 10),
		ContentType:      ContentText,
		Body:             msg.Text,
	}
	if msg.From != nil {
		out.PushName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}

	switch {
	case msg.Voice != nil:
		out.ContentType = ContentAudio
		out.MediaURL = msg.Voice.FileID
		out.MediaMimeType = msg.Voice.MimeType
		out.Body = msg.Caption
	case msg.Audio != nil:
		out.ContentType = ContentAudio
		out.MediaURL = msg.Audio.FileID
		out.MediaMimeType = msg.Audio.MimeType
		out.Body = msg.Caption
	case len(msg.Photo) > 0:
		out.ContentType = ContentImage
		out.MediaURL = msg.Photo[len(msg.Photo)-1].FileID
		out.MediaMimeType = "image/jpeg"
		out.Body = msg.Caption
	case msg.Video != nil:
		out.ContentType = ContentVideo
		out.MediaURL = msg.Video.FileID
		out.MediaMimeType = msg.Video.MimeType
		out.Body = msg.Caption
	case msg.Document != nil:
		out.ContentType = ContentDocument
		out.MediaURL = msg.Document.FileID
		out.MediaMimeType = msg.Document.MimeType
		out.Body = msg.Caption
	}

	return out, nil
}

// normalizePhone strips formatting so (company, phone) lookups are stable.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.TrimSpace(phone)
	}
	return b.String()
}
