package channels

import (
	"encoding/json"
	"testing"
)

func TestCapabilitiesFor(t *testing.T) {
	wa := CapabilitiesFor(TypeWhatsApp)
	if !wa.SupportsMedia() || !wa.Followups {
		t.Fatalf("whatsapp should carry media and followups: %+v", wa)
	}

	ig := CapabilitiesFor(TypeInstagram)
	if ig.SendDocument || ig.Followups {
		t.Fatalf("instagram must not send documents or followups: %+v", ig)
	}
	if !ig.SupportsContent(ContentImage) {
		t.Fatal("instagram should carry images")
	}

	tg := CapabilitiesFor(TypeTelegram)
	if !tg.SendDocument || tg.Followups {
		t.Fatalf("telegram: documents yes, followups no: %+v", tg)
	}

	unknown := CapabilitiesFor("sms")
	if unknown.SupportsMedia() || !unknown.SendText {
		t.Fatalf("unknown channel should be text only: %+v", unknown)
	}
	if unknown.SupportsContent("hologram") {
		t.Fatal("unknown content type should be unsupported")
	}
}

func TestIsKnown(t *testing.T) {
	for _, ch := range []string{TypeWhatsApp, TypeInstagram, TypeTelegram} {
		if !IsKnown(ch) {
			t.Fatalf("%s should be known", ch)
		}
	}
	if IsKnown("sms") {
		t.Fatal("sms should be unknown")
	}
}

func TestParseInbound_Normalized(t *testing.T) {
	payload := json.RawMessage(`{
		"instance_id": "inst-1",
		"channel_message_id": "wamid.123",
		"from": "+55 (11) 98765-4321",
		"push_name": "Maria",
		"body": "oi, quero saber dos apartamentos"
	}`)
	in, err := ParseInbound(payload, TypeWhatsApp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.From != "5511987654321" {
		t.Fatalf("phone not normalized: %q", in.From)
	}
	if in.ContentType != ContentText {
		t.Fatalf("content type should default to text: %q", in.ContentType)
	}
	if in.ChannelMessageID != "wamid.123" || in.PushName != "Maria" {
		t.Fatalf("fields lost: %+v", in)
	}
}

func TestParseInbound_Rejections(t *testing.T) {
	if _, err := ParseInbound(json.RawMessage(`{"from": "551199"}`), TypeWhatsApp); err == nil {
		t.Fatal("missing instance_id must fail")
	}
	if _, err := ParseInbound(json.RawMessage(`{"instance_id": "i1"}`), TypeWhatsApp); err == nil {
		t.Fatal("missing sender must fail")
	}
	if _, err := ParseInbound(json.RawMessage(`not json`), TypeWhatsApp); err == nil {
		t.Fatal("invalid json must fail")
	}
}

func TestParseInbound_TelegramText(t *testing.T) {
	payload := json.RawMessage(`{
		"instance_id": "inst-tg",
		"raw": {
			"update_id": 10,
			"message": {
				"message_id": 42,
				"chat": {"id": 123456789, "type": "private"},
				"from": {"id": 1, "first_name": "João", "last_name": "Silva"},
				"text": "quero agendar uma visita"
			}
		}
	}`)
	in, err := ParseInbound(payload, TypeTelegram)
	if err != nil {
		t.Fatalf("parse telegram: %v", err)
	}
	if in.From != "123456789" || in.ChannelMessageID != "42" {
		t.Fatalf("telegram identity wrong: %+v", in)
	}
	if in.PushName != "João Silva" {
		t.Fatalf("push name wrong: %q", in.PushName)
	}
	if in.Body != "quero agendar uma visita" || in.ContentType != ContentText {
		t.Fatalf("body wrong: %+v", in)
	}
}

func TestParseInbound_TelegramVoice(t *testing.T) {
	payload := json.RawMessage(`{
		"instance_id": "inst-tg",
		"raw": {
			"update_id": 11,
			"message": {
				"message_id": 43,
				"chat": {"id": 123456789, "type": "private"},
				"voice": {"file_id": "voice-file-1", "duration": 4, "mime_type": "audio/ogg"}
			}
		}
	}`)
	in, err := ParseInbound(payload, TypeTelegram)
	if err != nil {
		t.Fatalf("parse voice: %v", err)
	}
	if in.ContentType != ContentAudio || in.MediaURL != "voice-file-1" {
		t.Fatalf("voice not normalized: %+v", in)
	}
	if in.MediaMimeType != "audio/ogg" {
		t.Fatalf("mime lost: %q", in.MediaMimeType)
	}
}

func TestParseInbound_TelegramCommand(t *testing.T) {
	payload := json.RawMessage(`{
		"instance_id": "inst-tg",
		"raw": {
			"update_id": 13,
			"message": {
				"message_id": 44,
				"chat": {"id": 123456789, "type": "private"},
				"text": "/start promo-campaign"
			}
		}
	}`)
	in, err := ParseInbound(payload, TypeTelegram)
	if err != nil {
		t.Fatalf("parse command: %v", err)
	}
	if in.Command != "/start" {
		t.Fatalf("command not extracted: %q", in.Command)
	}
	if in.Body != "/start promo-campaign" {
		t.Fatalf("body must keep the full text: %q", in.Body)
	}
}

func TestParseInbound_InstagramStoryMention(t *testing.T) {
	payload := json.RawMessage(`{
		"instance_id": "inst-ig",
		"from": "17841400000000000",
		"raw": {"is_story": true}
	}`)
	in, err := ParseInbound(payload, TypeInstagram)
	if err != nil {
		t.Fatalf("parse story: %v", err)
	}
	if in.Body != "[instagram] story mention" {
		t.Fatalf("story should get a synthetic body: %q", in.Body)
	}

	payload = json.RawMessage(`{
		"instance_id": "inst-ig",
		"from": "17841400000000000",
		"raw": {"is_mention": true}
	}`)
	in, err = ParseInbound(payload, TypeInstagram)
	if err != nil {
		t.Fatalf("parse mention: %v", err)
	}
	if in.Body != "[instagram] mention" {
		t.Fatalf("mention should get a synthetic body: %q", in.Body)
	}

	// A normal Instagram DM keeps its own text.
	payload = json.RawMessage(`{
		"instance_id": "inst-ig",
		"from": "17841400000000000",
		"body": "adorei o post"
	}`)
	in, err = ParseInbound(payload, TypeInstagram)
	if err != nil {
		t.Fatalf("parse dm: %v", err)
	}
	if in.Body != "adorei o post" {
		t.Fatalf("dm body must pass through: %q", in.Body)
	}
}

func TestParseInbound_TelegramNoMessage(t *testing.T) {
	payload := json.RawMessage(`{"instance_id": "i", "raw": {"update_id": 12}}`)
	if _, err := ParseInbound(payload, TypeTelegram); err == nil {
		t.Fatal("update without message must fail")
	}
}

func TestNormalizePhone(t *testing.T) {
	if got := normalizePhone("+55 11 99999-0000"); got != "5511999990000" {
		t.Fatalf("digits only expected: %q", got)
	}
	// Non-numeric identities (telegram usernames) pass through.
	if got := normalizePhone("user-handle"); got != "user-handle" {
		t.Fatalf("non-numeric identity should pass through: %q", got)
	}
}
