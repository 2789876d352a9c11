package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	AggregateSummarySchemaVersion = "aggregate_summary_v1"
	AggregateSummaryPromptID      = "aggregate_summary_prompt_v1"
)

type AggregateItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Summary  string `json:"summary,omitempty"`
	URL      string `json:"url,omitempty"`
	AhaScore int    `json:"aha_score,omitempty"`
}

// AggregateSummaryInput is a set of already-triaged items on one scope, such
// as a topic or a digest window.
type AggregateSummaryInput struct {
	Scope string          `json:"scope"`
	Items []AggregateItem `json:"items"`
}

type Theme struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	ItemIDs []string `json:"item_ids"`
}

type Highlight struct {
	ItemID string `json:"item_id"`
	Why    string `json:"why"`
}

type AggregateSummaryOutput struct {
	SchemaVersion string      `json:"schema_version"`
	PromptID      string      `json:"prompt_id"`
	Provider      string      `json:"provider"`
	Model         string      `json:"model"`
	OneLiner      string      `json:"one_liner"`
	Overview      string      `json:"overview"`
	Themes        []Theme     `json:"themes"`
	Highlights    []Highlight `json:"highlights"`
	OpenQuestions []string    `json:"open_questions"`
}

var aggregateSummarySchema = schemaInfo{
	version:  AggregateSummarySchemaVersion,
	promptID: AggregateSummaryPromptID,
	role:     "You are an editor writing a cross-item briefing over a set of related content items.",
	instructions: `
Write a "one_liner" and an "overview" paragraph for the whole set.
Group items into "themes", each naming the "item_ids" it covers (use ids from the payload only).
Pick up to 5 "highlights" with a short "why", and list any "open_questions".`,
	shape: `{
  "schema_version": string, "prompt_id": string, "provider": string, "model": string,
  "one_liner": string,
  "overview": string,
  "themes": [{"title": string, "summary": string, "item_ids": [string]}],
  "highlights": [{"item_id": string, "why": string}],
  "open_questions": [string]
}`,
}

func (e *Executor) AggregateSummary(ctx context.Context, tier domain.BudgetTier, input AggregateSummaryInput) (Result[AggregateSummaryOutput], error) {
	if len(input.Items) == 0 {
		return Result[AggregateSummaryOutput]{}, domain.InvalidArgument("aggregate summary needs at least one item")
	}

	known := make(map[string]struct{}, len(input.Items))
	payload := AggregateSummaryInput{Scope: clamp(input.Scope, e.limits.TitleChars)}
	budget := e.limits.MaxInputChars
	for _, item := range input.Items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return Result[AggregateSummaryOutput]{}, domain.InvalidArgument("every aggregate summary item needs an id")
		}
		entry := AggregateItem{
			ID:       id,
			Title:    clamp(item.Title, e.limits.TitleChars),
			Summary:  clamp(item.Summary, e.limits.SnippetChars),
			URL:      item.URL,
			AhaScore: item.AhaScore,
		}
		budget -= len([]rune(entry.Title)) + len([]rune(entry.Summary))
		if budget < 0 && len(payload.Items) > 0 {
			e.logger.Printf("aggregate summary input truncated kept=%d total=%d", len(payload.Items), len(input.Items))
			break
		}
		known[id] = struct{}{}
		payload.Items = append(payload.Items, entry)
	}

	return run(ctx, e, job[AggregateSummaryOutput]{
		task:    domain.TaskAggregateSummary,
		tier:    tier,
		schema:  aggregateSummarySchema,
		payload: payload,
		backoff: singleBackoff,
		normalize: func(obj map[string]any, ref domain.ModelRef) (AggregateSummaryOutput, error) {
			return normalizeAggregateSummary(obj, ref, known)
		},
	})
}

func normalizeAggregateSummary(obj map[string]any, ref domain.ModelRef, known map[string]struct{}) (AggregateSummaryOutput, error) {
	if _, err := checkVersion(obj, AggregateSummarySchemaVersion, AggregateSummaryPromptID); err != nil {
		return AggregateSummaryOutput{}, err
	}
	oneLiner, err := requiredString(obj, "one_liner", maxReasonChars)
	if err != nil {
		return AggregateSummaryOutput{}, err
	}
	overview, err := requiredString(obj, "overview", 4*maxItemChars)
	if err != nil {
		return AggregateSummaryOutput{}, err
	}
	rawThemes, err := objectList(obj, "themes")
	if err != nil {
		return AggregateSummaryOutput{}, err
	}

	themes := []Theme{}
	for _, raw := range rawThemes {
		title := optionalString(raw, "title", 120)
		if title == "" {
			continue
		}
		themes = append(themes, Theme{
			Title:   title,
			Summary: optionalString(raw, "summary", maxReasonChars),
			ItemIDs: knownIDs(toStringList(raw["item_ids"], 0, 120), known),
		})
	}
	if len(themes) == 0 && len(rawThemes) > 0 {
		return AggregateSummaryOutput{}, fmt.Errorf("themes: no entry has a title")
	}

	highlights := []Highlight{}
	rawHighlights, _ := objectList(obj, "highlights")
	for _, raw := range rawHighlights {
		id := optionalString(raw, "item_id", 120)
		if _, ok := known[id]; !ok {
			continue
		}
		highlights = append(highlights, Highlight{ItemID: id, Why: optionalString(raw, "why", maxReasonChars)})
	}

	return AggregateSummaryOutput{
		SchemaVersion: AggregateSummarySchemaVersion,
		PromptID:      AggregateSummaryPromptID,
		Provider:      ref.Provider,
		Model:         ref.Model,
		OneLiner:      oneLiner,
		Overview:      overview,
		Themes:        themes,
		Highlights:    highlights,
		OpenQuestions: stringList(obj, "open_questions", maxListItems, maxItemChars),
	}, nil
}

// knownIDs keeps ids present in known, in order, without duplicates.
func knownIDs(ids []string, known map[string]struct{}) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
