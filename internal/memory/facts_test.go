package memory

import (
	"strings"
	"testing"
)

func TestExtractHeuristic(t *testing.T) {
	text := "Meu email é maria@example.com, telefone 55 11 98765-4321. " +
		"Orçamento de R$ 450.000 e quero visitar dia 03/09/2026."
	facts := extractHeuristic(text)
	if len(facts) != 4 {
		t.Fatalf("expected 4 facts, got %d: %+v", len(facts), facts)
	}

	byCategory := map[string][]string{}
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f.Text)
	}
	if len(byCategory[CategoryPersonal]) != 2 {
		t.Fatalf("email and phone should be personal: %+v", byCategory)
	}
	if len(byCategory[CategoryRequirement]) != 2 {
		t.Fatalf("budget and date should be requirements: %+v", byCategory)
	}

	for _, want := range []string{"maria@example.com", "R$ 450.000", "03/09/2026"} {
		found := false
		for _, f := range facts {
			if strings.Contains(f.Text, want) {
				found = true
			}
		}
		if !found {
			t.Fatalf("fact with %q missing: %+v", want, facts)
		}
	}
}

func TestExtractHeuristic_SmallTalk(t *testing.T) {
	if facts := extractHeuristic("oi, tudo bem? obrigada!"); len(facts) != 0 {
		t.Fatalf("small talk should yield no facts: %+v", facts)
	}
}

func TestDedupeFacts(t *testing.T) {
	facts := dedupeFacts([]Fact{
		{Text: "Prefere bairro Pinheiros", Category: CategoryPreference},
		{Text: "prefere bairro pinheiros", Category: CategoryPreference},
		{Text: "Prefere bairro Pinheiros", Category: CategoryHistory},
	})
	if len(facts) != 2 {
		t.Fatalf("case-insensitive dedupe per category expected, got %+v", facts)
	}
}
