package ai

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSONObject tolerates three response shapes, tried in order:
// raw JSON, JSON inside a fenced code block, and the substring between
// the first `{` and the last `}`.
func extractJSONObject(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)

	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, true
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, true
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err == nil {
			return out, true
		}
	}

	return nil, false
}

// parseDecisionJSON decodes a generate_reply response, tolerating the
// same three shapes as extractJSONObject.
func parseDecisionJSON(text string) (Decision, bool) {
	raw, ok := extractJSONObject(text)
	if !ok {
		return Decision{}, false
	}

	d := Decision{}
	if reply, ok := raw["reply"].(string); ok {
		d.Reply = reply
	} else {
		return Decision{}, false
	}
	if v, ok := raw["handover"].(bool); ok {
		d.Handover = v
	}
	if v, ok := raw["closeChat"].(bool); ok {
		d.CloseChat = v
	}
	if list, ok := raw["suggestions"].([]any); ok {
		for _, s := range list {
			if str, ok := s.(string); ok {
				d.Suggestions = append(d.Suggestions, str)
				if len(d.Suggestions) == 6 {
					break
				}
			}
		}
	}
	if tf, ok := raw["triggerFlow"].(map[string]any); ok {
		trigger := &TriggerFlow{Variables: map[string]string{}}
		if id, ok := tf["flowId"].(string); ok {
			trigger.FlowID = id
		}
		if vars, ok := tf["variables"].(map[string]any); ok {
			for k, v := range coerceStringMap(vars) {
				trigger.Variables[k] = v
			}
		}
		if trigger.FlowID != "" {
			d.TriggerFlow = trigger
		}
	}
	return d, true
}

// coerceStringMap string-coerces every value in a decoded JSON object
// and drops empty strings, per extract_variables' contract.
func coerceStringMap(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s := stringifyValue(v)
		if s == "" {
			continue
		}
		out[k] = s
	}
	return out
}

func stringifyValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
