package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	CatchupSelectSchemaVersion = "catchup_pack_select_v1"
	CatchupSelectPromptID      = "catchup_pack_select_prompt_v1"
	CatchupTierSchemaVersion   = "catchup_pack_tier_v1"
	CatchupTierPromptID        = "catchup_pack_tier_prompt_v1"

	defaultMaxPicks = 20
)

// CatchupCandidate is one item a returning reader might have missed.
type CatchupCandidate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	AhaScore    int    `json:"aha_score,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

type CatchupSelectInput struct {
	TimeBudgetMinutes int                `json:"time_budget_minutes"`
	MaxPicks          int                `json:"max_picks"`
	Candidates        []CatchupCandidate `json:"candidates"`
}

type CatchupPick struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Theme  string `json:"theme,omitempty"`
}

type CatchupSelectOutput struct {
	SchemaVersion string        `json:"schema_version"`
	PromptID      string        `json:"prompt_id"`
	Provider      string        `json:"provider"`
	Model         string        `json:"model"`
	Picks         []CatchupPick `json:"picks"`
}

type CatchupTierInput struct {
	TimeBudgetMinutes int                `json:"time_budget_minutes"`
	Items             []CatchupCandidate `json:"items"`
}

type CatchupTierEntry struct {
	ID  string `json:"id"`
	Why string `json:"why"`
}

type CatchupTierOutput struct {
	SchemaVersion string             `json:"schema_version"`
	PromptID      string             `json:"prompt_id"`
	Provider      string             `json:"provider"`
	Model         string             `json:"model"`
	Title         string             `json:"title"`
	Summary       string             `json:"summary"`
	MustRead      []CatchupTierEntry `json:"must_read"`
	WorthScanning []CatchupTierEntry `json:"worth_scanning"`
	Headlines     []CatchupTierEntry `json:"headlines"`
}

var catchupSelectSchema = schemaInfo{
	version:  CatchupSelectSchemaVersion,
	promptID: CatchupSelectPromptID,
	role:     "You assemble a catch-up pack for a reader returning after time away.",
	instructions: `
From "candidates", pick at most "max_picks" items that fit the reader's "time_budget_minutes".
Prefer high signal and variety. Every pick must use an "id" from the candidates, with a short "reason"
and an optional "theme".`,
	shape: `{
  "schema_version": string, "prompt_id": string, "provider": string, "model": string,
  "picks": [{"id": string, "reason": string, "theme": string}]
}`,
}

var catchupTierSchema = schemaInfo{
	version:  CatchupTierSchemaVersion,
	promptID: CatchupTierPromptID,
	role:     "You arrange a catch-up pack into reading tiers.",
	instructions: `
Give the pack a short "title" and a one paragraph "summary".
Place every item id exactly once in "must_read", "worth_scanning" or "headlines",
each with a one-line "why".`,
	shape: `{
  "schema_version": string, "prompt_id": string, "provider": string, "model": string,
  "title": string,
  "summary": string,
  "must_read": [{"id": string, "why": string}],
  "worth_scanning": [{"id": string, "why": string}],
  "headlines": [{"id": string, "why": string}]
}`,
}

func (e *Executor) clampCandidates(candidates []CatchupCandidate) ([]CatchupCandidate, map[string]struct{}, error) {
	known := make(map[string]struct{}, len(candidates))
	out := make([]CatchupCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		id := strings.TrimSpace(candidate.ID)
		if id == "" {
			return nil, nil, domain.InvalidArgument("every catch-up candidate needs an id")
		}
		if _, dup := known[id]; dup {
			continue
		}
		known[id] = struct{}{}
		candidate.ID = id
		candidate.Title = clamp(candidate.Title, e.limits.TitleChars)
		candidate.Snippet = clamp(candidate.Snippet, e.limits.SnippetChars)
		out = append(out, candidate)
	}
	return out, known, nil
}

// CatchupPackSelect chooses which candidates go into a catch-up pack.
func (e *Executor) CatchupPackSelect(ctx context.Context, tier domain.BudgetTier, input CatchupSelectInput) (Result[CatchupSelectOutput], error) {
	if len(input.Candidates) == 0 {
		return Result[CatchupSelectOutput]{}, domain.InvalidArgument("catch-up selection needs at least one candidate")
	}
	candidates, known, err := e.clampCandidates(input.Candidates)
	if err != nil {
		return Result[CatchupSelectOutput]{}, err
	}
	maxPicks := input.MaxPicks
	if maxPicks <= 0 {
		maxPicks = defaultMaxPicks
	}
	payload := CatchupSelectInput{
		TimeBudgetMinutes: input.TimeBudgetMinutes,
		MaxPicks:          maxPicks,
		Candidates:        candidates,
	}

	return run(ctx, e, job[CatchupSelectOutput]{
		task:    domain.TaskCatchupPackSelect,
		tier:    tier,
		schema:  catchupSelectSchema,
		payload: payload,
		backoff: batchBackoff,
		normalize: func(obj map[string]any, ref domain.ModelRef) (CatchupSelectOutput, error) {
			return normalizeCatchupSelect(obj, ref, known, maxPicks)
		},
	})
}

func normalizeCatchupSelect(obj map[string]any, ref domain.ModelRef, known map[string]struct{}, maxPicks int) (CatchupSelectOutput, error) {
	if _, err := checkVersion(obj, CatchupSelectSchemaVersion, CatchupSelectPromptID); err != nil {
		return CatchupSelectOutput{}, err
	}
	entries, err := objectList(obj, "picks")
	if err != nil {
		return CatchupSelectOutput{}, err
	}

	picks := []CatchupPick{}
	seen := map[string]struct{}{}
	for _, entry := range entries {
		id := idOf(entry)
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		picks = append(picks, CatchupPick{
			ID:     id,
			Reason: optionalString(entry, "reason", maxReasonChars),
			Theme:  optionalString(entry, "theme", 120),
		})
		if len(picks) == maxPicks {
			break
		}
	}
	if len(picks) == 0 && len(entries) > 0 {
		return CatchupSelectOutput{}, fmt.Errorf("picks: no entry matches a candidate id")
	}
	return CatchupSelectOutput{
		SchemaVersion: CatchupSelectSchemaVersion,
		PromptID:      CatchupSelectPromptID,
		Provider:      ref.Provider,
		Model:         ref.Model,
		Picks:         picks,
	}, nil
}

// CatchupPackTier sorts selected items into must-read, worth-scanning and
// headline tiers.
func (e *Executor) CatchupPackTier(ctx context.Context, tier domain.BudgetTier, input CatchupTierInput) (Result[CatchupTierOutput], error) {
	if len(input.Items) == 0 {
		return Result[CatchupTierOutput]{}, domain.InvalidArgument("catch-up tiering needs at least one item")
	}
	items, known, err := e.clampCandidates(input.Items)
	if err != nil {
		return Result[CatchupTierOutput]{}, err
	}
	payload := CatchupTierInput{TimeBudgetMinutes: input.TimeBudgetMinutes, Items: items}

	return run(ctx, e, job[CatchupTierOutput]{
		task:    domain.TaskCatchupPackTier,
		tier:    tier,
		schema:  catchupTierSchema,
		payload: payload,
		backoff: batchBackoff,
		normalize: func(obj map[string]any, ref domain.ModelRef) (CatchupTierOutput, error) {
			return normalizeCatchupTier(obj, ref, known)
		},
	})
}

// normalizeCatchupTier keeps each id only in the first tier it appears in,
// in must_read, worth_scanning, headlines order.
func normalizeCatchupTier(obj map[string]any, ref domain.ModelRef, known map[string]struct{}) (CatchupTierOutput, error) {
	if _, err := checkVersion(obj, CatchupTierSchemaVersion, CatchupTierPromptID); err != nil {
		return CatchupTierOutput{}, err
	}

	placed := map[string]struct{}{}
	tiers := make(map[string][]CatchupTierEntry, 3)
	present := 0
	for _, key := range []string{"must_read", "worth_scanning", "headlines"} {
		tiers[key] = []CatchupTierEntry{}
		entries, err := objectList(obj, key)
		if err != nil {
			continue
		}
		present++
		for _, entry := range entries {
			id := idOf(entry)
			if _, ok := known[id]; !ok {
				continue
			}
			if _, dup := placed[id]; dup {
				continue
			}
			placed[id] = struct{}{}
			tiers[key] = append(tiers[key], CatchupTierEntry{ID: id, Why: optionalString(entry, "why", maxReasonChars)})
		}
	}
	if present == 0 {
		return CatchupTierOutput{}, fmt.Errorf("must_read, worth_scanning, headlines: %w", errMissing)
	}
	if len(placed) == 0 {
		return CatchupTierOutput{}, fmt.Errorf("tiers: no entry matches an item id")
	}

	return CatchupTierOutput{
		SchemaVersion: CatchupTierSchemaVersion,
		PromptID:      CatchupTierPromptID,
		Provider:      ref.Provider,
		Model:         ref.Model,
		Title:         optionalString(obj, "title", 200),
		Summary:       optionalString(obj, "summary", 4*maxItemChars),
		MustRead:      tiers["must_read"],
		WorthScanning: tiers["worth_scanning"],
		Headlines:     tiers["headlines"],
	}, nil
}
