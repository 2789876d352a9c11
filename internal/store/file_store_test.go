package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

func record(id, provider, outcome string, in, out int64, cost float64, createdAt string) domain.CallRecord {
	return domain.CallRecord{
		ID:           id,
		Task:         string(domain.TaskTriage),
		Tier:         string(domain.TierNormal),
		Provider:     provider,
		Model:        "m",
		InputTokens:  in,
		OutputTokens: out,
		CostCredits:  cost,
		Outcome:      outcome,
		CreatedAt:    createdAt,
	}
}

func TestFileStorePersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calls.json")
	ctx := context.Background()

	first := NewFileStore(path)
	require.NoError(t, first.Load())
	require.NoError(t, first.Append(ctx, record("a", "openai", domain.OutcomeSuccess, 10, 5, 0.1, "2026-01-01T00:00:01Z")))
	require.NoError(t, first.Append(ctx, record("b", "codex-subscription", domain.OutcomeError, 0, 0, 0, "2026-01-01T00:00:02Z")))

	second := NewFileStore(path)
	require.NoError(t, second.Load())
	records, err := second.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, "a", records[1].ID)

	latest, err := second.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, []string{latest[0].ID})
}

func TestFileStoreDropsOldestBeyondCap(t *testing.T) {
	s := NewMemoryStore()
	s.maxRecords = 3
	require.NoError(t, s.Load())
	for i := range 5 {
		require.NoError(t, s.Append(context.Background(), record(fmt.Sprintf("r%d", i), "openai", domain.OutcomeSuccess, 1, 1, 0, fmt.Sprintf("2026-01-01T00:00:0%dZ", i))))
	}

	records, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	ids := []string{}
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r4", "r3", "r2"}, ids)
}

func TestSummarizeGroupsByProvider(t *testing.T) {
	summary := Summarize([]domain.CallRecord{
		record("a", "openai", domain.OutcomeSuccess, 100, 50, 0.5, "t1"),
		record("b", "openai", domain.OutcomeError, 20, 0, 0.1, "t2"),
		record("c", "claude-subscription", domain.OutcomeSuccess, 30, 10, 0, "t3"),
		record("d", "", domain.OutcomeRejected, 0, 0, 0, "t4"),
	})

	assert.Equal(t, 4, summary.Counts.Calls)
	assert.Equal(t, 2, summary.Counts.Failures)
	assert.Equal(t, int64(150), summary.Totals.InputTokens)
	assert.Equal(t, int64(60), summary.Totals.OutputTokens)
	assert.InDelta(t, 0.6, summary.Totals.CostCredits, 1e-9)
	assert.Equal(t, domain.ProviderTotals{Calls: 2, Failures: 1, InputTokens: 120, OutputTokens: 50, CostCredits: 0.6}, roundCost(summary.Totals.ByProvider["openai"]))
	assert.Equal(t, 1, summary.Totals.ByProvider["unresolved"].Calls)
}

func roundCost(totals domain.ProviderTotals) domain.ProviderTotals {
	totals.CostCredits = float64(int(totals.CostCredits*1000+0.5)) / 1000
	return totals
}
