package tasks

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\\r?\\n?(.*?)```")

// ExtractJSONObject recovers one JSON object from model text: the whole text
// when it starts with "{", else the last fenced block starting with "{", else
// the span from the first "{" to the last "}". Arrays never qualify.
func ExtractJSONObject(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if strings.HasPrefix(trimmed, "{") {
		if obj, ok := parseObject(trimmed); ok {
			return obj, true
		}
	}

	matches := fencedBlock.FindAllStringSubmatch(trimmed, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		block := strings.TrimSpace(matches[i][1])
		if !strings.HasPrefix(block, "{") {
			continue
		}
		if obj, ok := parseObject(block); ok {
			return obj, true
		}
		break
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if obj, ok := parseObject(trimmed[start : end+1]); ok {
			return obj, true
		}
	}
	return nil, false
}

func parseObject(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
