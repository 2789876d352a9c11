package tasks

import (
	"context"
	"fmt"
	"maps"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	TriageSchemaVersion = "triage_v1"
	TriagePromptID      = "triage_prompt_v1"

	// triage_v0 used score/relevant/novel/deep_summarize.
	triageSchemaV0 = "triage_v0"
)

type TriageInput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	URL         string `json:"url,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	Author      string `json:"author,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

type TriageOutput struct {
	SchemaVersion       string   `json:"schema_version"`
	PromptID            string   `json:"prompt_id"`
	Provider            string   `json:"provider"`
	Model               string   `json:"model"`
	AhaScore            int      `json:"aha_score"`
	IsRelevant          bool     `json:"is_relevant"`
	IsNovel             bool     `json:"is_novel"`
	ShouldDeepSummarize bool     `json:"should_deep_summarize"`
	Reason              string   `json:"reason"`
	Categories          []string `json:"categories"`
	Tags                []string `json:"tags"`
}

var triageSchema = schemaInfo{
	version:  TriageSchemaVersion,
	promptID: TriagePromptID,
	role:     "You are a personal news triage assistant. You score how surprising and useful one content item is for the reader's topic.",
	instructions: `
Score the item with an "aha_score" from 0 (noise) to 100 (must read).
Set "is_relevant" when the item is on-topic, "is_novel" when it says something new,
and "should_deep_summarize" when it deserves a full summary.
Give a one or two sentence "reason".`,
	shape: `{
  "schema_version": string, "prompt_id": string, "provider": string, "model": string,
  "aha_score": integer 0-100,
  "is_relevant": boolean, "is_novel": boolean, "should_deep_summarize": boolean,
  "reason": string,
  "categories": [string] (optional), "tags": [string] (optional)
}`,
	jsonSchema: objectSchema(triageProperties(), triageRequired...),
}

var triageRequired = []string{"aha_score", "is_relevant", "is_novel", "should_deep_summarize", "reason"}

func triageProperties() map[string]any {
	return map[string]any{
		"schema_version":        stringSchema(),
		"prompt_id":             stringSchema(),
		"provider":              stringSchema(),
		"model":                 stringSchema(),
		"aha_score":             map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		"is_relevant":           boolSchema(),
		"is_novel":              boolSchema(),
		"should_deep_summarize": boolSchema(),
		"reason":                stringSchema(),
		"categories":            arraySchema(stringSchema()),
		"tags":                  arraySchema(stringSchema()),
	}
}

// Triage scores one candidate.
func (e *Executor) Triage(ctx context.Context, tier domain.BudgetTier, input TriageInput) (Result[TriageOutput], error) {
	if input.Title == "" && input.Body == "" {
		return Result[TriageOutput]{}, domain.InvalidArgument("triage input needs a title or body")
	}
	return run(ctx, e, job[TriageOutput]{
		task:    domain.TaskTriage,
		tier:    tier,
		schema:  triageSchema,
		payload: e.triagePayload(input, e.limits.BodyChars),
		backoff: singleBackoff,
		normalize: func(obj map[string]any, ref domain.ModelRef) (TriageOutput, error) {
			version, err := checkVersion(obj, TriageSchemaVersion, TriagePromptID, triageSchemaV0)
			if err != nil {
				return TriageOutput{}, err
			}
			return normalizeTriage(upgradeTriage(obj, version), ref)
		},
	})
}

func (e *Executor) triagePayload(input TriageInput, bodyChars int) TriageInput {
	return TriageInput{
		ID:          input.ID,
		Title:       clamp(input.Title, e.limits.TitleChars),
		Body:        clamp(input.Body, bodyChars),
		URL:         input.URL,
		SourceType:  input.SourceType,
		Author:      clamp(input.Author, 120),
		PublishedAt: input.PublishedAt,
		Topic:       clamp(input.Topic, e.limits.TitleChars),
	}
}

// upgradeTriage remaps the v0 field names onto the current shape. Fields
// already present under their current name win.
func upgradeTriage(obj map[string]any, version string) map[string]any {
	if version != triageSchemaV0 {
		return obj
	}
	renames := map[string]string{
		"score":          "aha_score",
		"relevant":       "is_relevant",
		"novel":          "is_novel",
		"deep_summarize": "should_deep_summarize",
	}
	upgraded := maps.Clone(obj)
	for old, current := range renames {
		if _, exists := upgraded[current]; exists {
			continue
		}
		if value, ok := obj[old]; ok {
			upgraded[current] = value
		}
	}
	upgraded["schema_version"] = TriageSchemaVersion
	return upgraded
}

func normalizeTriage(obj map[string]any, ref domain.ModelRef) (TriageOutput, error) {
	score, err := requiredScore(obj, "aha_score", 0, 100)
	if err != nil {
		return TriageOutput{}, err
	}
	relevant, err := requiredBool(obj, "is_relevant")
	if err != nil {
		return TriageOutput{}, err
	}
	novel, err := requiredBool(obj, "is_novel")
	if err != nil {
		return TriageOutput{}, err
	}
	deep, err := requiredBool(obj, "should_deep_summarize")
	if err != nil {
		return TriageOutput{}, err
	}
	reason, err := requiredString(obj, "reason", maxReasonChars)
	if err != nil {
		return TriageOutput{}, fmt.Errorf("triage: %w", err)
	}
	return TriageOutput{
		SchemaVersion:       TriageSchemaVersion,
		PromptID:            TriagePromptID,
		Provider:            ref.Provider,
		Model:               ref.Model,
		AhaScore:            score,
		IsRelevant:          relevant,
		IsNovel:             novel,
		ShouldDeepSummarize: deep,
		Reason:              reason,
		Categories:          stringList(obj, "categories", 5, 60),
		Tags:                stringList(obj, "tags", 10, 60),
	}, nil
}
