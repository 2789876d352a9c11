// Package quota is the pre-flight admission check for subscription providers
// and the read model behind quota displays.
package quota

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lamosty/aharadar-sub003/internal/config"
	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/usage"
)

const (
	DefaultClaudeCallsPerHour = 100
	DefaultCodexCallsPerHour  = 25
)

// Limits maps provider to resource to the hourly ceiling. A provider with no
// entry has no ceiling.
type Limits map[string]map[string]int64

func DefaultLimits() Limits {
	return Limits{
		domain.ProviderClaudeSubscription: {domain.ResourceCalls: DefaultClaudeCallsPerHour},
		domain.ProviderCodexSubscription:  {domain.ResourceCalls: DefaultCodexCallsPerHour},
	}
}

// LimitsFromSource reads the hourly ceilings. Searches and thinking-token
// ceilings are only enforced for display when set.
func LimitsFromSource(src config.Source) Limits {
	limits := Limits{
		domain.ProviderClaudeSubscription: {
			domain.ResourceCalls: int64(src.PositiveInt("CLAUDE_CALLS_PER_HOUR", DefaultClaudeCallsPerHour)),
		},
		domain.ProviderCodexSubscription: {
			domain.ResourceCalls: int64(src.PositiveInt("CODEX_CALLS_PER_HOUR", DefaultCodexCallsPerHour)),
		},
	}
	if searches := src.PositiveInt("CLAUDE_SEARCHES_PER_HOUR", 0); searches > 0 {
		limits[domain.ProviderClaudeSubscription][domain.ResourceSearches] = int64(searches)
	}
	if thinking := src.PositiveInt("CLAUDE_THINKING_TOKENS_PER_HOUR", 0); thinking > 0 {
		limits[domain.ProviderClaudeSubscription][domain.ResourceThinkingTokens] = int64(thinking)
	}
	return limits
}

func (l Limits) Limit(provider, resource string) (int64, bool) {
	resources, ok := l[provider]
	if !ok {
		return 0, false
	}
	limit, ok := resources[resource]
	return limit, ok
}

// Counter is the usage read the gate needs; *usage.Store satisfies it.
type Counter interface {
	CountContext(ctx context.Context, provider, resource string) int64
}

// CheckQuotaForRun admits or rejects a run expected to make expectedCalls
// calls against provider. API-key providers and providers without a calls
// ceiling are always admitted.
func CheckQuotaForRun(ctx context.Context, counter Counter, provider string, expectedCalls int64, limits Limits) domain.QuotaCheckResult {
	if !domain.IsSubscriptionProvider(provider) {
		return domain.QuotaCheckResult{OK: true}
	}
	limit, ok := limits.Limit(provider, domain.ResourceCalls)
	if !ok {
		return domain.QuotaCheckResult{OK: true}
	}
	if expectedCalls < 0 {
		expectedCalls = 0
	}

	used := counter.CountContext(ctx, provider, domain.ResourceCalls)
	if used >= limit {
		remaining := int64(0)
		return domain.QuotaCheckResult{
			OK: false,
			Error: fmt.Sprintf(
				"%s quota exhausted: %d/%d calls used this hour (limit %d/hour). Wait for the hourly reset or switch to an API-key provider.",
				provider, used, limit, limit,
			),
			RemainingQuota: &remaining,
			ExpectedCalls:  &expectedCalls,
		}
	}

	remaining := limit - used
	if remaining < expectedCalls {
		return domain.QuotaCheckResult{
			OK: false,
			Error: fmt.Sprintf(
				"%s quota insufficient: %d/hour limit, %d calls remaining < %d expected. Wait for the hourly reset, reduce the run's scope, or switch to an API-key provider.",
				provider, limit, remaining, expectedCalls,
			),
			RemainingQuota: &remaining,
			ExpectedCalls:  &expectedCalls,
		}
	}
	return domain.QuotaCheckResult{
		OK:             true,
		RemainingQuota: &remaining,
		ExpectedCalls:  &expectedCalls,
	}
}

type Gate struct {
	counter Counter
	limits  Limits
	now     func() time.Time
}

func NewGate(counter Counter, limits Limits) *Gate {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Gate{counter: counter, limits: limits, now: time.Now}
}

func (g *Gate) Limits() Limits {
	return g.limits
}

func (g *Gate) CheckQuotaForRun(ctx context.Context, provider string, expectedCalls int64) domain.QuotaCheckResult {
	return CheckQuotaForRun(ctx, g.counter, provider, expectedCalls, g.limits)
}

// Status reports each limited resource of provider. Providers without limits
// yield an empty slice.
func (g *Gate) Status(ctx context.Context, provider string) []domain.QuotaStatus {
	resources := g.limits[provider]
	names := make([]string, 0, len(resources))
	for resource := range resources {
		names = append(names, resource)
	}
	sort.Strings(names)

	resetAt := usage.NextReset(g.now())
	statuses := make([]domain.QuotaStatus, 0, len(names))
	for _, resource := range names {
		limit := resources[resource]
		used := g.counter.CountContext(ctx, provider, resource)
		statuses = append(statuses, domain.QuotaStatus{
			Provider:  provider,
			Resource:  resource,
			Used:      used,
			Limit:     limit,
			Remaining: max(limit-used, 0),
			ResetAt:   resetAt,
		})
	}
	return statuses
}

func (g *Gate) StatusAll(ctx context.Context) []domain.QuotaStatus {
	providers := make([]string, 0, len(g.limits))
	for provider := range g.limits {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	var statuses []domain.QuotaStatus
	for _, provider := range providers {
		statuses = append(statuses, g.Status(ctx, provider)...)
	}
	return statuses
}
