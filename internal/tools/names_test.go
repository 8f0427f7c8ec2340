package tools

import (
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"crm_lookup", "crm_lookup"},
		{"Buscar Imóveis!", "Buscar_Im_veis"},
		{"__trimmed__", "trimmed"},
		{"", "tool"},
		{"!!!", "tool"},
		{"1password", "t_1password"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Fatalf("SanitizeName(%q): want %q, got %q", tc.in, tc.want, got)
		}
	}

	long := SanitizeName(strings.Repeat("a", 100))
	if len(long) != 64 {
		t.Fatalf("expected cap at 64, got %d", len(long))
	}
}

func TestMCPFunctionNameRoundTrip(t *testing.T) {
	name := MCPFunctionName("CRM Server", "search_deals")
	if name != "mcp_CRM_Server__search_deals" {
		t.Fatalf("unexpected name: %q", name)
	}

	server, tool, ok := SplitMCPFunctionName(name)
	if !ok || server != "CRM_Server" || tool != "search_deals" {
		t.Fatalf("split failed: %q %q %v", server, tool, ok)
	}
}

func TestSplitMCPFunctionName_Rejections(t *testing.T) {
	for _, name := range []string{"crm_lookup", "mcp_noseparator", "mcp___tool", "mcp_server__"} {
		if _, _, ok := SplitMCPFunctionName(name); ok {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}
