package tasks

import (
	"context"
	"maps"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	DeepSummarySchemaVersion = "deep_summary_v3"
	DeepSummaryPromptID      = "deep_summary_prompt_v3"

	deepSummarySchemaV1 = "deep_summary_v1"
	deepSummarySchemaV2 = "deep_summary_v2"
)

// Titles given to the flat v2 lists when they become sections.
const (
	SectionWhyItMatters       = "Why it matters"
	SectionRisksOrCaveats     = "Risks or caveats"
	SectionSuggestedFollowups = "Suggested follow-ups"
)

type DeepSummaryInput struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	URL         string `json:"url,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	Author      string `json:"author,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

type DeepSummaryOutput struct {
	SchemaVersion string    `json:"schema_version"`
	PromptID      string    `json:"prompt_id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	OneLiner      string    `json:"one_liner"`
	Bullets       []string  `json:"bullets"`
	Sections      []Section `json:"sections"`
	Entities      []string  `json:"entities"`
}

var deepSummarySchema = schemaInfo{
	version:  DeepSummarySchemaVersion,
	promptID: DeepSummaryPromptID,
	role:     "You are an analyst writing a dense briefing about one content item for a busy reader.",
	instructions: `
Write a "one_liner" (one sentence) and up to 8 factual "bullets".
Add "sections" such as "Why it matters", "Risks or caveats" and "Suggested follow-ups",
each with short "items". List notable people, companies or products in "entities".
Do not invent facts that are not in the payload.`,
	shape: `{
  "schema_version": string, "prompt_id": string, "provider": string, "model": string,
  "one_liner": string,
  "bullets": [string],
  "sections": [{"title": string, "items": [string]}],
  "entities": [string] (optional)
}`,
}

func (e *Executor) DeepSummary(ctx context.Context, tier domain.BudgetTier, input DeepSummaryInput) (Result[DeepSummaryOutput], error) {
	if strings.TrimSpace(input.Body) == "" && strings.TrimSpace(input.Title) == "" {
		return Result[DeepSummaryOutput]{}, domain.InvalidArgument("deep summary input needs a title or body")
	}
	payload := input
	payload.Title = clamp(input.Title, e.limits.TitleChars)
	payload.Body = clamp(input.Body, e.limits.MaxInputChars)
	payload.Author = clamp(input.Author, 120)
	payload.Topic = clamp(input.Topic, e.limits.TitleChars)

	return run(ctx, e, job[DeepSummaryOutput]{
		task:      domain.TaskDeepSummary,
		tier:      tier,
		schema:    deepSummarySchema,
		payload:   payload,
		backoff:   singleBackoff,
		normalize: normalizeDeepSummary,
	})
}

func normalizeDeepSummary(obj map[string]any, ref domain.ModelRef) (DeepSummaryOutput, error) {
	version, err := checkVersion(obj, DeepSummarySchemaVersion, DeepSummaryPromptID, deepSummarySchemaV1, deepSummarySchemaV2)
	if err != nil {
		return DeepSummaryOutput{}, err
	}
	obj = upgradeDeepSummary(obj, version)

	oneLiner, err := requiredString(obj, "one_liner", maxReasonChars)
	if err != nil {
		return DeepSummaryOutput{}, err
	}
	bullets, err := requiredStringList(obj, "bullets", maxListItems, maxItemChars)
	if err != nil {
		return DeepSummaryOutput{}, err
	}
	return DeepSummaryOutput{
		SchemaVersion: DeepSummarySchemaVersion,
		PromptID:      DeepSummaryPromptID,
		Provider:      ref.Provider,
		Model:         ref.Model,
		OneLiner:      oneLiner,
		Bullets:       bullets,
		Sections:      sectionList(obj["sections"]),
		Entities:      stringList(obj, "entities", 20, 120),
	}, nil
}

// upgradeDeepSummary applies v1→v2 then v2→v3.
func upgradeDeepSummary(obj map[string]any, version string) map[string]any {
	switch version {
	case deepSummarySchemaV1:
		return deepSummaryV2toV3(deepSummaryV1toV2(obj))
	case deepSummarySchemaV2:
		return deepSummaryV2toV3(obj)
	default:
		return obj
	}
}

// v1 stored why_it_matters as a single string; v2 made it a list.
func deepSummaryV1toV2(obj map[string]any) map[string]any {
	upgraded := maps.Clone(obj)
	if text, ok := obj["why_it_matters"].(string); ok {
		if strings.TrimSpace(text) == "" {
			upgraded["why_it_matters"] = []any{}
		} else {
			upgraded["why_it_matters"] = []any{text}
		}
	}
	upgraded["schema_version"] = deepSummarySchemaV2
	return upgraded
}

// v2 kept three flat lists; v3 folds them into titled sections after any
// sections the model already returned.
func deepSummaryV2toV3(obj map[string]any) map[string]any {
	upgraded := maps.Clone(obj)
	sections, _ := obj["sections"].([]any)
	sections = append([]any{}, sections...)
	for _, flat := range []struct{ key, title string }{
		{"why_it_matters", SectionWhyItMatters},
		{"risks_or_caveats", SectionRisksOrCaveats},
		{"suggested_followups", SectionSuggestedFollowups},
	} {
		items := toStringList(obj[flat.key], maxListItems, maxItemChars)
		delete(upgraded, flat.key)
		if len(items) == 0 {
			continue
		}
		sections = append(sections, map[string]any{"title": flat.title, "items": anyList(items)})
	}
	upgraded["sections"] = sections
	upgraded["schema_version"] = DeepSummarySchemaVersion
	return upgraded
}
