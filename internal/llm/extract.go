package llm

import (
	"strings"
)

// shapeMatcher pulls assistant text out of one provider response shape.
type shapeMatcher struct {
	name  string
	match func(payload map[string]any) string
}

// responseShapes is tried in order; the first non-empty match wins. New
// provider shapes are added by appending a matcher.
var responseShapes = []shapeMatcher{
	{name: "output_text", match: matchOutputText},
	{name: "responses_output", match: matchResponsesOutput},
	{name: "chat_choices", match: matchChatChoices},
	{name: "messages_content", match: matchMessagesContent},
	{name: "sdk_result", match: matchSDKResult},
}

// ExtractText returns the assistant text and the name of the shape that
// produced it.
func ExtractText(payload map[string]any) (string, string, bool) {
	if payload == nil {
		return "", "", false
	}
	for _, shape := range responseShapes {
		if text := strings.TrimSpace(shape.match(payload)); text != "" {
			return text, shape.name, true
		}
	}
	return "", "", false
}

func matchOutputText(payload map[string]any) string {
	text, _ := payload["output_text"].(string)
	return text
}

func matchResponsesOutput(payload map[string]any) string {
	items, _ := payload["output"].([]any)
	var parts []string
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if itemType, _ := item["type"].(string); itemType != "" && itemType != "message" {
			continue
		}
		parts = append(parts, textParts(item["content"], "output_text", "text")...)
	}
	return strings.Join(parts, "")
}

func matchChatChoices(payload map[string]any) string {
	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return ""
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)
	switch content := message["content"].(type) {
	case string:
		return content
	case []any:
		return strings.Join(textParts(content, "text", "output_text"), "")
	default:
		return ""
	}
}

func matchMessagesContent(payload map[string]any) string {
	return strings.Join(textParts(payload["content"], "text"), "")
}

func matchSDKResult(payload map[string]any) string {
	text, _ := payload["result"].(string)
	return text
}

// textParts collects "text" fields of content blocks whose type is one of
// types (blocks without a type are accepted).
func textParts(raw any, types ...string) []string {
	blocks, _ := raw.([]any)
	var parts []string
	for _, rawBlock := range blocks {
		block, ok := rawBlock.(map[string]any)
		if !ok {
			continue
		}
		blockType, _ := block["type"].(string)
		if blockType != "" && !contains(types, blockType) {
			continue
		}
		if text, ok := block["text"].(string); ok {
			parts = append(parts, text)
		}
	}
	return parts
}

func contains(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}

// extractUsage reads token counts from the usage object, accepting both the
// responses/messages naming and the chat-completions naming. Missing counts
// are zero.
func extractUsage(payload map[string]any) (int64, int64) {
	usage, _ := payload["usage"].(map[string]any)
	if usage == nil {
		return 0, 0
	}
	input := firstNumber(usage, "input_tokens", "prompt_tokens")
	output := firstNumber(usage, "output_tokens", "completion_tokens")
	return input, output
}

func firstNumber(values map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if number, ok := values[key].(float64); ok && number >= 0 {
			return int64(number)
		}
	}
	return 0
}
