package runtime

import (
	"strings"
	"testing"

	"github.com/wolfganghq/centurion/internal/channels"
)

func TestExtractMediaPlan_SingleObject(t *testing.T) {
	reply := "Segue a planta do apartamento!\n```media\n{\"asset_id\": \"a1\", \"type\": \"image\", \"caption\": \"Planta 2 quartos\"}\n```\nQualquer dúvida me chama."
	cleaned, plan := ExtractMediaPlan(reply)

	if strings.Contains(cleaned, "```") {
		t.Fatalf("fence left in cleaned text: %q", cleaned)
	}
	if len(plan) != 1 {
		t.Fatalf("expected 1 plan item, got %d", len(plan))
	}
	if plan[0].AssetID != "a1" || plan[0].Type != "image" || plan[0].Caption != "Planta 2 quartos" {
		t.Fatalf("unexpected plan item: %+v", plan[0])
	}
}

func TestExtractMediaPlan_ArrayAndLimits(t *testing.T) {
	var b strings.Builder
	b.WriteString("Olha só:\n```media\n[")
	for i := 0; i < 7; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"id": "a` + string(rune('0'+i)) + `", "type": "image"}`)
	}
	b.WriteString("]\n```")

	_, plan := ExtractMediaPlan(b.String())
	if len(plan) != 5 {
		t.Fatalf("expected cap at 5, got %d", len(plan))
	}
	// "id" is accepted as an alias for asset_id.
	if plan[0].AssetID != "a0" {
		t.Fatalf("alias id not honored: %+v", plan[0])
	}
}

func TestExtractMediaPlan_MalformedDropped(t *testing.T) {
	cases := []string{
		"```media\nnot json\n```",
		"```media\n{\"type\": \"image\"}\n```",
		"```media\n{\"asset_id\": \"a1\", \"type\": \"hologram\"}\n```",
		"```media\n```",
	}
	for _, reply := range cases {
		if _, plan := ExtractMediaPlan(reply); len(plan) != 0 {
			t.Fatalf("expected malformed block dropped: %q -> %+v", reply, plan)
		}
	}
}

func TestChunkText(t *testing.T) {
	if got := ChunkText("", 100); got != nil {
		t.Fatalf("empty text should yield nil, got %+v", got)
	}

	short := "Oi! Tudo bem?"
	if got := ChunkText(short, 100); len(got) != 1 || got[0] != short {
		t.Fatalf("short text should stay whole: %+v", got)
	}

	text := "Primeira frase aqui. Segunda frase um pouco maior aqui! Terceira frase fecha?"
	chunks := ChunkText(text, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %+v", chunks)
	}
	for _, c := range chunks {
		if len([]rune(c)) > 40 {
			t.Fatalf("chunk over budget: %q", c)
		}
	}
	if joined := strings.Join(chunks, " "); joined != text {
		t.Fatalf("content lost in chunking:\n want %q\n got  %q", text, joined)
	}
}

func TestChunkText_HardSplitLongRun(t *testing.T) {
	long := strings.Repeat("a", 75)
	chunks := ChunkText(long, 30)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 75 chars at 30, got %d: %+v", len(chunks), chunks)
	}
	if strings.Join(chunks, "") != long {
		t.Fatal("hard split lost content")
	}
}

func TestSplitSentences_PunctuationRuns(t *testing.T) {
	got := splitSentences("Sério?! Sim... E depois? fim")
	want := []string{"Sério?!", "Sim...", "E depois?", "fim"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBuildOutbound(t *testing.T) {
	caps := channels.CapabilitiesFor(channels.TypeWhatsApp)
	plan := []MediaPlanItem{
		{AssetID: "a1", Type: channels.ContentImage, Caption: "planta"},
		{AssetID: "a2", Type: channels.ContentAudio, Caption: "deve sumir"},
	}
	out := BuildOutbound("Oi. Tudo certo!", plan, caps, true, 100)
	if len(out) != 3 {
		t.Fatalf("expected text + 2 media, got %d: %+v", len(out), out)
	}
	if out[0].ContentType != channels.ContentText {
		t.Fatalf("text must come first: %+v", out[0])
	}
	if out[1].Caption != "planta" {
		t.Fatalf("image caption lost: %+v", out[1])
	}
	if out[2].Caption != "" {
		t.Fatalf("audio must not carry caption: %+v", out[2])
	}
}

func TestBuildOutbound_CapabilityFilter(t *testing.T) {
	caps := channels.CapabilitiesFor("sms") // unknown: text only
	plan := []MediaPlanItem{{AssetID: "a1", Type: channels.ContentImage}}
	out := BuildOutbound("Oi", plan, caps, false, 0)
	if len(out) != 1 || out[0].ContentType != channels.ContentText {
		t.Fatalf("media should be filtered on text-only channel: %+v", out)
	}
}
