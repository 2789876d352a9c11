package tasks

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	maxListItems   = 12
	maxItemChars   = 400
	maxReasonChars = 600
)

var errMissing = errors.New("missing required field")

// Section is a titled group of bullet items in summary outputs.
type Section struct {
	Title string   `json:"title"`
	Items []string `json:"items"`
}

// checkVersion accepts the current version, any listed legacy version, or a
// missing version (treated as current). It returns the version to upgrade from.
// An echoed prompt_id must belong to the same prompt family as promptID.
func checkVersion(obj map[string]any, current, promptID string, legacy ...string) (string, error) {
	if err := checkPromptID(obj, promptID); err != nil {
		return "", err
	}
	raw, present := obj["schema_version"]
	if !present || raw == nil {
		return current, nil
	}
	version, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("schema_version must be a string")
	}
	version = strings.TrimSpace(version)
	if version == "" || version == current {
		return current, nil
	}
	for _, candidate := range legacy {
		if version == candidate {
			return version, nil
		}
	}
	return "", fmt.Errorf("unsupported schema_version %q (expected %s)", version, current)
}

func checkPromptID(obj map[string]any, current string) error {
	raw, present := obj["prompt_id"]
	if !present || raw == nil {
		return nil
	}
	id, ok := raw.(string)
	if !ok {
		return fmt.Errorf("prompt_id must be a string")
	}
	id = strings.TrimSpace(id)
	if id == "" || id == current || promptFamily(id) == promptFamily(current) {
		return nil
	}
	return fmt.Errorf("unexpected prompt_id %q (expected %s)", id, current)
}

// promptFamily strips a trailing _v<N> so older prompt revisions still match.
func promptFamily(id string) string {
	index := strings.LastIndex(id, "_v")
	if index <= 0 {
		return id
	}
	if _, err := strconv.Atoi(id[index+2:]); err != nil {
		return id
	}
	return id[:index]
}

func requiredString(obj map[string]any, key string, limit int) (string, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%s: %w", key, errMissing)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return clamp(value, limit), nil
}

func optionalString(obj map[string]any, key string, limit int) string {
	value, _ := obj[key].(string)
	return clamp(value, limit)
}

func requiredBool(obj map[string]any, key string) (bool, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return false, fmt.Errorf("%s: %w", key, errMissing)
	}
	value, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return value, nil
}

// requiredScore reads a number within [low, high] and rounds it. The range is
// checked before rounding.
func requiredScore(obj map[string]any, key string, low, high int) (int, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%s: %w", key, errMissing)
	}
	number, ok := raw.(float64)
	if !ok || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	if number < float64(low) || number > float64(high) {
		return 0, fmt.Errorf("%s=%v out of range %d-%d", key, number, low, high)
	}
	return int(math.Round(number)), nil
}

// stringList reads an optional string array: missing or malformed values give
// an empty list, non-string and blank entries are dropped. maxItems <= 0 keeps
// every entry.
func stringList(obj map[string]any, key string, maxItems, maxChars int) []string {
	return toStringList(obj[key], maxItems, maxChars)
}

func toStringList(raw any, maxItems, maxChars int) []string {
	out := []string{}
	items, ok := raw.([]any)
	if !ok {
		if single, ok := raw.(string); ok && strings.TrimSpace(single) != "" {
			return []string{clamp(single, maxChars)}
		}
		return out
	}
	for _, item := range items {
		text, ok := item.(string)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, clamp(text, maxChars))
		if maxItems > 0 && len(out) == maxItems {
			break
		}
	}
	return out
}

func requiredStringList(obj map[string]any, key string, maxItems, maxChars int) ([]string, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%s: %w", key, errMissing)
	}
	if _, ok := raw.([]any); !ok {
		return nil, fmt.Errorf("%s must be an array", key)
	}
	return toStringList(raw, maxItems, maxChars), nil
}

func sectionList(raw any) []Section {
	out := []Section{}
	items, _ := raw.([]any)
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title := optionalString(entry, "title", 120)
		if title == "" {
			continue
		}
		out = append(out, Section{Title: title, Items: stringList(entry, "items", maxListItems, maxItemChars)})
	}
	return out
}

// objectList returns the map entries of an array field.
func objectList(obj map[string]any, key string) ([]map[string]any, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%s: %w", key, errMissing)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array", key)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if entry, ok := item.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

// idOf reads an item id that models may echo back as a string or a number.
func idOf(entry map[string]any) string {
	switch value := entry["id"].(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		if value == math.Trunc(value) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprint(value)
	default:
		return ""
	}
}

func anyList(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func arraySchema(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func stringSchema() map[string]any { return map[string]any{"type": "string"} }

func boolSchema() map[string]any { return map[string]any{"type": "boolean"} }
