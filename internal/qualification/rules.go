// Package qualification scores leads against tenant-configured criteria.
// Deterministic evaluation (data presence plus heuristic extraction) always
// runs; LLM-backed criteria overlay it when a provider is available.
package qualification

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Criterion types.
const (
	TypeFieldPresent = "field_present"
	TypeLLM          = "llm"
)

// Criterion is one parsed qualification check.
type Criterion struct {
	Key      string
	Type     string
	Weight   float64
	Required bool
	Field    string
	Prompt   string
	Label    string
}

// Rules is the parsed rule set for a bot.
type Rules struct {
	Threshold float64
	Criteria  []Criterion
}

const (
	maxFieldLen  = 128
	maxPromptLen = 2000
	maxLabelLen  = 120
)

// ParseRules normalizes a raw rules document. Unknown or malformed entries
// are dropped, duplicate keys keep the first occurrence, and the legacy
// required_fields form expands into equally-weighted required criteria.
func ParseRules(raw json.RawMessage) Rules {
	rules := Rules{Threshold: 1.0}
	if len(raw) == 0 {
		return rules
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return rules
	}

	if v, ok := doc["threshold"]; ok {
		rules.Threshold = clamp01(toFloat(v, 1.0))
	}

	seen := map[string]struct{}{}

	if list, ok := doc["criteria"].([]any); ok {
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key := strings.TrimSpace(toStr(entry["key"]))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			ctype := strings.TrimSpace(toStr(entry["type"]))
			if ctype != TypeLLM {
				ctype = TypeFieldPresent
			}

			field := strings.TrimSpace(toStr(entry["field"]))
			if field == "" {
				field = key
			}
			if len(field) > maxFieldLen {
				field = field[:maxFieldLen]
			}

			prompt := toStr(entry["prompt"])
			if len(prompt) > maxPromptLen {
				prompt = prompt[:maxPromptLen]
			}
			label := toStr(entry["label"])
			if len(label) > maxLabelLen {
				label = label[:maxLabelLen]
			}

			rules.Criteria = append(rules.Criteria, Criterion{
				Key:      key,
				Type:     ctype,
				Weight:   clamp01(toFloat(entry["weight"], 0)),
				Required: toBool(entry["required"]),
				Field:    field,
				Prompt:   prompt,
				Label:    label,
			})
		}
	}

	// Legacy form: a bare list of required field names.
	if len(rules.Criteria) == 0 {
		if fields, ok := doc["required_fields"].([]any); ok && len(fields) > 0 {
			weight := 1.0 / float64(len(fields))
			for _, f := range fields {
				name := strings.TrimSpace(toStr(f))
				if name == "" {
					continue
				}
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				rules.Criteria = append(rules.Criteria, Criterion{
					Key:      name,
					Type:     TypeFieldPresent,
					Weight:   weight,
					Required: true,
					Field:    name,
				})
			}
		}
	}

	return rules
}

// Hash fingerprints a rules document so evaluation events can be tied to the
// exact configuration that produced them. The document is canonicalized
// (sorted keys, compact) before hashing.
func Hash(raw json.RawMessage) string {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		doc = map[string]any{}
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		canonical = []byte("{}")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toStr(v any) string {
	s, _ := v.(string)
	return s
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toFloat(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return fallback
		}
		return f
	default:
		return fallback
	}
}
