package tasks

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

func batchInputs(n int) []TriageInput {
	inputs := make([]TriageInput, n)
	for i := range inputs {
		inputs[i] = TriageInput{ID: fmt.Sprintf("c%d", i+1), Title: fmt.Sprintf("Candidate %d", i+1)}
	}
	return inputs
}

func batchEntry(id string, score int) string {
	return fmt.Sprintf(`{"id":%q,"aha_score":%d,"is_relevant":true,"is_novel":false,"should_deep_summarize":false,"reason":"ok"}`, id, score)
}

func TestTriageBatchKeepsPartialResults(t *testing.T) {
	text := fmt.Sprintf(`{"schema_version":"triage_batch_v1","results":[%s,%s,%s,%s,%s]}`,
		batchEntry("c1", 10), batchEntry("c2", 20), batchEntry("c3", 30), batchEntry("c5", 50), batchEntry("c9", 90))
	h := newHarness(t, nil, reply{text: text})

	result, err := h.executor.TriageBatch(context.Background(), domain.TierNormal, batchInputs(5))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Output.ItemCount)
	assert.Equal(t, 4, result.Output.SuccessCount)
	require.Len(t, result.Output.Results, 4)
	assert.Equal(t, 50, result.Output.Results["c5"].AhaScore)
	assert.NotContains(t, result.Output.Results, "c4")
	assert.NotContains(t, result.Output.Results, "c9")
	assert.Equal(t, 1, result.Attempts)
}

func TestTriageBatchDropsInvalidEntries(t *testing.T) {
	text := fmt.Sprintf(`{"results":[%s,%s,%s]}`, batchEntry("c1", 10), batchEntry("c2", 200), batchEntry("c1", 99))
	h := newHarness(t, nil, reply{text: text})

	result, err := h.executor.TriageBatch(context.Background(), domain.TierNormal, batchInputs(2))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Output.SuccessCount)
	assert.Equal(t, 10, result.Output.Results["c1"].AhaScore)
}

func TestTriageBatchRetriesWhenNothingSurvives(t *testing.T) {
	h := newHarness(t, nil,
		reply{text: `{"results":[{"id":"zzz","aha_score":5}]}`},
		reply{text: fmt.Sprintf(`{"results":[%s]}`, batchEntry("c2", 70))},
	)

	result, err := h.executor.TriageBatch(context.Background(), domain.TierNormal, batchInputs(2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, result.Output.SuccessCount)
	require.Len(t, h.sleeps, 1)
	assert.GreaterOrEqual(t, h.sleeps[0], 2*time.Second)
	assert.Less(t, h.sleeps[0], 4*time.Second)
}

func TestTriageBatchUpgradesLegacyEntries(t *testing.T) {
	text := fmt.Sprintf(`{"schema_version":"triage_batch_v1","results":[%s,
		{"id":"c2","score":64,"relevant":true,"novel":true,"deep_summarize":false,"reason":"old shape"},
		{"id":"c3","schema_version":"triage_v0","score":12,"relevant":false,"novel":false,"deep_summarize":false,"reason":"tagged old"}]}`,
		batchEntry("c1", 10))
	h := newHarness(t, nil, reply{text: text})

	result, err := h.executor.TriageBatch(context.Background(), domain.TierNormal, batchInputs(3))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Output.SuccessCount)
	legacy := result.Output.Results["c2"]
	assert.Equal(t, 64, legacy.AhaScore)
	assert.True(t, legacy.IsRelevant)
	assert.True(t, legacy.IsNovel)
	assert.Equal(t, TriageSchemaVersion, legacy.SchemaVersion)
	assert.Equal(t, 12, result.Output.Results["c3"].AhaScore)
	assert.Equal(t, 1, result.Attempts)
}

func TestTriageBatchRejectsBadInput(t *testing.T) {
	h := newHarness(t, map[string]string{"LLM_TRIAGE_BATCH_MAX_ITEMS": "3"})

	_, err := h.executor.TriageBatch(context.Background(), domain.TierNormal, batchInputs(4))
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))

	_, err = h.executor.TriageBatch(context.Background(), domain.TierNormal, []TriageInput{{ID: "a", Title: "x"}, {ID: " a ", Title: "y"}})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))

	_, err = h.executor.TriageBatch(context.Background(), domain.TierNormal, []TriageInput{{Title: "no id"}})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))

	_, err = h.executor.TriageBatch(context.Background(), domain.TierNormal, nil)
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))
	assert.Empty(t, h.router.requests)
}

func TestDeepSummaryUpgradesV1(t *testing.T) {
	h := newHarness(t, nil, reply{text: `{
		"schema_version": "deep_summary_v1",
		"one_liner": "Sodium cells get cheaper.",
		"bullets": ["Cost down 30%"],
		"why_it_matters": "Grid storage economics change.",
		"risks_or_caveats": ["Lab scale only"],
		"suggested_followups": []
	}`})

	result, err := h.executor.DeepSummary(context.Background(), domain.TierHigh, DeepSummaryInput{Title: "Battery", Body: "text"})
	require.NoError(t, err)
	out := result.Output
	assert.Equal(t, DeepSummarySchemaVersion, out.SchemaVersion)
	assert.Equal(t, "Sodium cells get cheaper.", out.OneLiner)
	assert.Equal(t, []string{"Cost down 30%"}, out.Bullets)
	assert.Equal(t, []Section{
		{Title: SectionWhyItMatters, Items: []string{"Grid storage economics change."}},
		{Title: SectionRisksOrCaveats, Items: []string{"Lab scale only"}},
	}, out.Sections)
	assert.Equal(t, []string{}, out.Entities)
}

func TestDeepSummaryV2AppendsAfterExistingSections(t *testing.T) {
	out, err := normalizeDeepSummary(map[string]any{
		"schema_version":      "deep_summary_v2",
		"one_liner":           "x",
		"bullets":             []any{"a"},
		"sections":            []any{map[string]any{"title": "Context", "items": []any{"c"}}},
		"suggested_followups": []any{"call the lab"},
	}, domain.ModelRef{Provider: "anthropic", Model: "claude-sonnet-4-5"})
	require.NoError(t, err)
	assert.Equal(t, []Section{
		{Title: "Context", Items: []string{"c"}},
		{Title: SectionSuggestedFollowups, Items: []string{"call the lab"}},
	}, out.Sections)
	assert.Equal(t, "anthropic", out.Provider)
}

func TestDeepSummaryRequiresBullets(t *testing.T) {
	_, err := normalizeDeepSummary(map[string]any{"one_liner": "x"}, domain.ModelRef{})
	assert.ErrorIs(t, err, errMissing)
}

func TestManualSummaryUpgradesV1(t *testing.T) {
	h := newHarness(t, nil, reply{text: `{
		"schema_version": "manual_summary_v1",
		"summary": "The memo proposes a four-day week. Pilots start in May.",
		"bullets": ["Pilot in May"],
		"key_takeaways": ["Productivity held", "Costs flat"]
	}`})

	result, err := h.executor.ManualSummary(context.Background(), domain.TierNormal, ManualSummaryInput{Text: "memo"})
	require.NoError(t, err)
	out := result.Output
	assert.Equal(t, ManualSummarySchemaVersion, out.SchemaVersion)
	assert.Equal(t, "The memo proposes a four-day week.", out.OneLiner)
	assert.Equal(t, []Section{{Title: SectionKeyTakeaways, Items: []string{"Productivity held", "Costs flat"}}}, out.Sections)
}

func TestManualSummaryRequiresText(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.executor.ManualSummary(context.Background(), domain.TierNormal, ManualSummaryInput{Text: "  "})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))
}

func TestAggregateSummaryFiltersUnknownIDs(t *testing.T) {
	h := newHarness(t, nil, reply{text: `{
		"one_liner": "Two threads this week.",
		"overview": "Batteries and chips.",
		"themes": [{"title": "Storage", "summary": "s", "item_ids": ["a", "zz", "a", "b"]}, {"summary": "untitled"}],
		"highlights": [{"item_id": "b", "why": "biggest"}, {"item_id": "nope", "why": "x"}],
		"open_questions": ["Will it scale?"]
	}`})

	result, err := h.executor.AggregateSummary(context.Background(), domain.TierNormal, AggregateSummaryInput{
		Scope: "energy",
		Items: []AggregateItem{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}},
	})
	require.NoError(t, err)
	out := result.Output
	assert.Equal(t, []Theme{{Title: "Storage", Summary: "s", ItemIDs: []string{"a", "b"}}}, out.Themes)
	assert.Equal(t, []Highlight{{ItemID: "b", Why: "biggest"}}, out.Highlights)
	assert.Equal(t, []string{"Will it scale?"}, out.OpenQuestions)
}

func TestAggregateSummaryDropsIDsCutByInputBudget(t *testing.T) {
	h := newHarness(t, map[string]string{"LLM_MAX_INPUT_CHARS": "30"}, reply{text: `{
		"one_liner": "One thread.",
		"overview": "Only the first item fit.",
		"themes": [{"title": "Storage", "summary": "s", "item_ids": ["a", "b"]}],
		"highlights": [{"item_id": "b", "why": "never sent"}, {"item_id": "a", "why": "sent"}]
	}`})

	result, err := h.executor.AggregateSummary(context.Background(), domain.TierNormal, AggregateSummaryInput{
		Items: []AggregateItem{
			{ID: "a", Title: "Sodium cells", Summary: "short"},
			{ID: "b", Title: "Chip fabs", Summary: strings.Repeat("x", 40)},
		},
	})
	require.NoError(t, err)
	assert.NotContains(t, h.router.requests[0].User, `"id":"b"`)
	assert.Equal(t, []string{"a"}, result.Output.Themes[0].ItemIDs)
	assert.Equal(t, []Highlight{{ItemID: "a", Why: "sent"}}, result.Output.Highlights)
}

func TestCatchupPackSelectFiltersAndCaps(t *testing.T) {
	h := newHarness(t, nil, reply{text: `{"picks":[
		{"id":"a","reason":"r1"},{"id":"ghost","reason":"x"},{"id":"a","reason":"dup"},{"id":"b","reason":"r2"},{"id":"c","reason":"r3"}
	]}`})

	result, err := h.executor.CatchupPackSelect(context.Background(), domain.TierLow, CatchupSelectInput{
		TimeBudgetMinutes: 15,
		MaxPicks:          2,
		Candidates:        []CatchupCandidate{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}, {ID: "c", Title: "C"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []CatchupPick{{ID: "a", Reason: "r1"}, {ID: "b", Reason: "r2"}}, result.Output.Picks)
	assert.Contains(t, h.router.requests[0].User, `"max_picks":2`)
}

func TestCatchupPackSelectDefaultsMaxPicks(t *testing.T) {
	h := newHarness(t, nil, reply{text: `{"picks":[{"id":"a","reason":"r"}]}`})
	_, err := h.executor.CatchupPackSelect(context.Background(), domain.TierNormal, CatchupSelectInput{
		Candidates: []CatchupCandidate{{ID: "a", Title: "A"}},
	})
	require.NoError(t, err)
	assert.Contains(t, h.router.requests[0].User, `"max_picks":20`)
}

func TestCatchupPackTierPlacesEachItemOnce(t *testing.T) {
	h := newHarness(t, nil, reply{text: `{
		"title": "Your week",
		"summary": "Mostly energy.",
		"must_read": [{"id": "a", "why": "big"}],
		"worth_scanning": [{"id": "a", "why": "again"}, {"id": "b", "why": "useful"}],
		"headlines": [{"id": 3, "why": "numeric id"}, {"id": "x", "why": "unknown"}]
	}`})

	result, err := h.executor.CatchupPackTier(context.Background(), domain.TierNormal, CatchupTierInput{
		Items: []CatchupCandidate{{ID: "a"}, {ID: "b"}, {ID: "3"}},
	})
	require.NoError(t, err)
	out := result.Output
	assert.Equal(t, "Your week", out.Title)
	assert.Equal(t, []CatchupTierEntry{{ID: "a", Why: "big"}}, out.MustRead)
	assert.Equal(t, []CatchupTierEntry{{ID: "b", Why: "useful"}}, out.WorthScanning)
	assert.Equal(t, []CatchupTierEntry{{ID: "3", Why: "numeric id"}}, out.Headlines)
}

func TestCatchupPackTierNeedsSomeTier(t *testing.T) {
	_, err := normalizeCatchupTier(map[string]any{"title": "t"}, domain.ModelRef{}, map[string]struct{}{"a": {}})
	assert.ErrorIs(t, err, errMissing)
}

func TestRatesEstimatePrecedence(t *testing.T) {
	h := newHarness(t, map[string]string{
		"LLM_DEEP_SUMMARY_INPUT_CREDITS_PER_1K":         "5",
		"LLM_CLAUDE_SUBSCRIPTION_INPUT_CREDITS_PER_1K":  "1",
		"LLM_CLAUDE_SUBSCRIPTION_OUTPUT_CREDITS_PER_1K": "3",
	})
	rates := h.executor.rates
	assert.InDelta(t, 5.0+3.0, rates.Estimate(domain.TaskDeepSummary, domain.ProviderClaudeSubscription, 1000, 1000), 1e-9)
	assert.InDelta(t, 1.0+3.0, rates.Estimate(domain.TaskTriage, domain.ProviderClaudeSubscription, 1000, 1000), 1e-9)
	assert.Zero(t, rates.Estimate(domain.TaskTriage, domain.ProviderOpenAI, 1000, 1000))
}

func TestClampCountsRunes(t *testing.T) {
	assert.Equal(t, "héll…", clamp("héllo world", 4))
	assert.Equal(t, "short", clamp("short", 10))
}
