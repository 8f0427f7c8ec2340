package egress

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Limits bounds every payload that crosses a trust boundary: tool arguments
// and results, and inbound media bytes.
type Limits struct {
	MaxToolArgsBytes   int
	MaxToolResultBytes int
	MaxJSONDepth       int
	MaxListItems       int
	MaxStringChars     int

	MaxMediaBytes  int64
	MaxSTTBytes    int64
	MaxVisionBytes int64
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxToolArgsBytes:   25_000,
		MaxToolResultBytes: 250_000,
		MaxJSONDepth:       6,
		MaxListItems:       80,
		MaxStringChars:     8_000,
		MaxMediaBytes:      15 << 20,
		MaxSTTBytes:        10 << 20,
		MaxVisionBytes:     6 << 20,
	}
}

// LimitsFromEnv applies PAYLOAD_LIMIT_* / MEDIA_MAX_* overrides over the
// defaults.
func LimitsFromEnv() Limits {
	l := DefaultLimits()
	l.MaxToolArgsBytes = envLimit("PAYLOAD_LIMIT_TOOL_ARGS_BYTES", l.MaxToolArgsBytes)
	l.MaxToolResultBytes = envLimit("PAYLOAD_LIMIT_TOOL_RESULT_BYTES", l.MaxToolResultBytes)
	l.MaxJSONDepth = envLimit("PAYLOAD_LIMIT_JSON_DEPTH", l.MaxJSONDepth)
	l.MaxListItems = envLimit("PAYLOAD_LIMIT_LIST_ITEMS", l.MaxListItems)
	l.MaxStringChars = envLimit("PAYLOAD_LIMIT_STRING_CHARS", l.MaxStringChars)
	l.MaxMediaBytes = int64(envLimit("MEDIA_MAX_DOWNLOAD_BYTES", int(l.MaxMediaBytes)))
	l.MaxSTTBytes = int64(envLimit("MEDIA_MAX_STT_BYTES", int(l.MaxSTTBytes)))
	l.MaxVisionBytes = int64(envLimit("MEDIA_MAX_VISION_BYTES", int(l.MaxVisionBytes)))
	return l
}

func envLimit(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// CheckToolArgs rejects argument maps whose serialized form exceeds the
// budget.
func (l Limits) CheckToolArgs(args map[string]any, toolName string) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args for %s: %w", toolName, err)
	}
	if len(raw) > l.MaxToolArgsBytes {
		return fmt.Errorf("tool %s arguments exceed %d bytes", toolName, l.MaxToolArgsBytes)
	}
	return nil
}

const truncSuffix = "...[truncated]"

// TruncateValue recursively bounds a decoded JSON value: strings are capped,
// lists shortened, and subtrees past the depth budget replaced. Truncated
// objects gain a "__truncated__" marker.
func (l Limits) TruncateValue(v any) any {
	return l.truncate(v, l.MaxJSONDepth)
}

// TruncateResult bounds a tool result. Oversized serialized results collapse
// to a marker object before the recursive pass.
func (l Limits) TruncateResult(v any) any {
	raw, err := json.Marshal(v)
	if err == nil && len(raw) > l.MaxToolResultBytes {
		return map[string]any{
			"__truncated__": true,
			"size_bytes":    len(raw),
		}
	}
	return l.truncate(v, l.MaxJSONDepth)
}

func (l Limits) truncate(v any, depth int) any {
	switch val := v.(type) {
	case string:
		return l.truncateString(val)
	case map[string]any:
		if depth <= 0 {
			return map[string]any{"__truncated__": true}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = l.truncate(item, depth-1)
		}
		return out
	case []any:
		if depth <= 0 {
			return []any{map[string]any{"__truncated__": true}}
		}
		items := val
		truncated := false
		if len(items) > l.MaxListItems {
			items = items[:l.MaxListItems]
			truncated = true
		}
		out := make([]any, 0, len(items)+1)
		for _, item := range items {
			out = append(out, l.truncate(item, depth-1))
		}
		if truncated {
			out = append(out, map[string]any{"__truncated__": true})
		}
		return out
	default:
		return v
	}
}

func (l Limits) truncateString(s string) string {
	runes := []rune(s)
	if len(runes) <= l.MaxStringChars {
		return s
	}
	keep := l.MaxStringChars - len(truncSuffix)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + truncSuffix
}
