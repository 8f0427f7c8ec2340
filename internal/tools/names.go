// Package tools exposes tenant-configured HTTP tools, MCP server tools, and
// built-ins to the model, and executes their calls.
package tools

import (
	"fmt"
	"regexp"
	"strings"
)

const maxToolNameLen = 64

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SanitizeName coerces an arbitrary label into a function name the model API
// accepts.
func SanitizeName(name string) string {
	s := invalidNameChars.ReplaceAllString(name, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "tool"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "t_" + s
	}
	if len(s) > maxToolNameLen {
		s = s[:maxToolNameLen]
	}
	return s
}

// MCPFunctionName builds the namespaced function name for an MCP server
// tool. The double underscore separates server from tool on the way back.
func MCPFunctionName(serverName, toolName string) string {
	s := fmt.Sprintf("mcp_%s__%s", SanitizeName(serverName), toolName)
	if len(s) > maxToolNameLen {
		s = s[:maxToolNameLen]
	}
	return s
}

// SplitMCPFunctionName reverses MCPFunctionName. Returns ok=false for names
// that are not MCP-namespaced.
func SplitMCPFunctionName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, "mcp_")
	if !found {
		return "", "", false
	}
	server, tool, found = strings.Cut(rest, "__")
	if !found || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}
