package tasks

import (
	"context"
	"maps"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	ManualSummarySchemaVersion = "manual_summary_v2"
	ManualSummaryPromptID      = "manual_summary_prompt_v2"

	// manual_summary_v1 had summary/bullets/key_takeaways and no one_liner.
	manualSummarySchemaV1 = "manual_summary_v1"

	SectionKeyTakeaways = "Key takeaways"
)

// ManualSummaryInput is text a user pasted in for an on-demand summary.
type ManualSummaryInput struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	URL   string `json:"url,omitempty"`
}

type ManualSummaryOutput struct {
	SchemaVersion string    `json:"schema_version"`
	PromptID      string    `json:"prompt_id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	OneLiner      string    `json:"one_liner"`
	Summary       string    `json:"summary"`
	Bullets       []string  `json:"bullets"`
	Sections      []Section `json:"sections"`
}

var manualSummarySchema = schemaInfo{
	version:  ManualSummarySchemaVersion,
	promptID: ManualSummaryPromptID,
	role:     "You summarize text a reader pasted in, faithfully and without padding.",
	instructions: `
Write a "one_liner", a short paragraph "summary", up to 8 "bullets",
and optional titled "sections" (for example "Key takeaways").`,
	shape: `{
  "schema_version": string, "prompt_id": string, "provider": string, "model": string,
  "one_liner": string,
  "summary": string,
  "bullets": [string],
  "sections": [{"title": string, "items": [string]}]
}`,
}

func (e *Executor) ManualSummary(ctx context.Context, tier domain.BudgetTier, input ManualSummaryInput) (Result[ManualSummaryOutput], error) {
	if strings.TrimSpace(input.Text) == "" {
		return Result[ManualSummaryOutput]{}, domain.InvalidArgument("manual summary text is required")
	}
	payload := ManualSummaryInput{
		Title: clamp(input.Title, e.limits.TitleChars),
		Text:  clamp(input.Text, e.limits.MaxInputChars),
		URL:   input.URL,
	}
	return run(ctx, e, job[ManualSummaryOutput]{
		task:      domain.TaskManualSummary,
		tier:      tier,
		schema:    manualSummarySchema,
		payload:   payload,
		backoff:   singleBackoff,
		normalize: normalizeManualSummary,
	})
}

func normalizeManualSummary(obj map[string]any, ref domain.ModelRef) (ManualSummaryOutput, error) {
	version, err := checkVersion(obj, ManualSummarySchemaVersion, ManualSummaryPromptID, manualSummarySchemaV1)
	if err != nil {
		return ManualSummaryOutput{}, err
	}
	if version == manualSummarySchemaV1 {
		obj = manualSummaryV1toV2(obj)
	}

	summary, err := requiredString(obj, "summary", 4*maxItemChars)
	if err != nil {
		return ManualSummaryOutput{}, err
	}
	oneLiner, err := requiredString(obj, "one_liner", maxReasonChars)
	if err != nil {
		return ManualSummaryOutput{}, err
	}
	bullets, err := requiredStringList(obj, "bullets", maxListItems, maxItemChars)
	if err != nil {
		return ManualSummaryOutput{}, err
	}
	return ManualSummaryOutput{
		SchemaVersion: ManualSummarySchemaVersion,
		PromptID:      ManualSummaryPromptID,
		Provider:      ref.Provider,
		Model:         ref.Model,
		OneLiner:      oneLiner,
		Summary:       summary,
		Bullets:       bullets,
		Sections:      sectionList(obj["sections"]),
	}, nil
}

// manualSummaryV1toV2 derives one_liner from the first sentence of summary
// and moves key_takeaways into a section.
func manualSummaryV1toV2(obj map[string]any) map[string]any {
	upgraded := maps.Clone(obj)
	if _, ok := upgraded["one_liner"]; !ok {
		if summary, ok := obj["summary"].(string); ok {
			upgraded["one_liner"] = firstSentence(summary)
		}
	}
	sections, _ := obj["sections"].([]any)
	sections = append([]any{}, sections...)
	if takeaways := toStringList(obj["key_takeaways"], maxListItems, maxItemChars); len(takeaways) > 0 {
		sections = append(sections, map[string]any{"title": SectionKeyTakeaways, "items": anyList(takeaways)})
	}
	delete(upgraded, "key_takeaways")
	upgraded["sections"] = sections
	upgraded["schema_version"] = ManualSummarySchemaVersion
	return upgraded
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				return text[:i+1]
			}
		}
	}
	return text
}
