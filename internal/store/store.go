package store

import (
	"context"
	"sort"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

// Ledger is the persistence contract for the orchestrator's call records.
type Ledger interface {
	Load() error
	Close() error

	Append(ctx context.Context, record domain.CallRecord) error
	// Recent returns up to limit records, newest first. limit <= 0 means all.
	Recent(ctx context.Context, limit int) ([]domain.CallRecord, error)
	Summary(ctx context.Context) (domain.Summary, error)
}

// Summarize folds records into per-provider totals.
func Summarize(records []domain.CallRecord) domain.Summary {
	summary := domain.Summary{}
	summary.Totals.ByProvider = map[string]domain.ProviderTotals{}
	for _, record := range records {
		failed := record.Outcome != domain.OutcomeSuccess
		summary.Counts.Calls++
		if failed {
			summary.Counts.Failures++
		}
		summary.Totals.InputTokens += record.InputTokens
		summary.Totals.OutputTokens += record.OutputTokens
		summary.Totals.CostCredits += record.CostCredits

		provider := record.Provider
		if provider == "" {
			provider = "unresolved"
		}
		entry := summary.Totals.ByProvider[provider]
		entry.Calls++
		if failed {
			entry.Failures++
		}
		entry.InputTokens += record.InputTokens
		entry.OutputTokens += record.OutputTokens
		entry.CostCredits += record.CostCredits
		summary.Totals.ByProvider[provider] = entry
	}
	return summary
}

func newestFirst(records []domain.CallRecord, limit int) []domain.CallRecord {
	out := make([]domain.CallRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
