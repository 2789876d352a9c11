package domain

import (
	"strings"
	"time"
)

type TaskType string

const (
	TaskTriage            TaskType = "triage"
	TaskDeepSummary       TaskType = "deep_summary"
	TaskAggregateSummary  TaskType = "aggregate_summary"
	TaskManualSummary     TaskType = "manual_summary"
	TaskCatchupPackSelect TaskType = "catchup_pack_select"
	TaskCatchupPackTier   TaskType = "catchup_pack_tier"
	TaskEntityExtract     TaskType = "entity_extract"
	TaskSignalParse       TaskType = "signal_parse"
	TaskQA                TaskType = "qa"
)

var validTaskTypes = map[TaskType]struct{}{
	TaskTriage:            {},
	TaskDeepSummary:       {},
	TaskAggregateSummary:  {},
	TaskManualSummary:     {},
	TaskCatchupPackSelect: {},
	TaskCatchupPackTier:   {},
	TaskEntityExtract:     {},
	TaskSignalParse:       {},
	TaskQA:                {},
}

func (t TaskType) Valid() bool {
	_, ok := validTaskTypes[t]
	return ok
}

// EnvKey is the upper-case form used in configuration keys (LLM_<TASK>_MODEL).
func (t TaskType) EnvKey() string {
	return strings.ToUpper(string(t))
}

type BudgetTier string

const (
	TierLow    BudgetTier = "low"
	TierNormal BudgetTier = "normal"
	TierHigh   BudgetTier = "high"
)

func ParseBudgetTier(raw string) (BudgetTier, error) {
	switch BudgetTier(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TierNormal:
		return TierNormal, nil
	case TierLow:
		return TierLow, nil
	case TierHigh:
		return TierHigh, nil
	default:
		return "", InvalidArgument("tier must be one of: low, normal, high")
	}
}

func (t BudgetTier) EnvKey() string {
	return strings.ToUpper(string(t))
}

const (
	ProviderOpenAI             = "openai"
	ProviderAnthropic          = "anthropic"
	ProviderClaudeSubscription = "claude-subscription"
	ProviderCodexSubscription  = "codex-subscription"
)

// IsSubscriptionProvider reports whether provider is billed by an hourly call
// ceiling rather than an API key.
func IsSubscriptionProvider(provider string) bool {
	switch provider {
	case ProviderClaudeSubscription, ProviderCodexSubscription:
		return true
	default:
		return false
	}
}

// Usage resources counted per subscription provider and hour bucket.
const (
	ResourceCalls          = "calls"
	ResourceSearches       = "searches"
	ResourceThinkingTokens = "thinking_tokens"
)

type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

type ReasoningEffort string

const (
	EffortNone    ReasoningEffort = "none"
	EffortMinimal ReasoningEffort = "minimal"
	EffortLow     ReasoningEffort = "low"
	EffortMedium  ReasoningEffort = "medium"
	EffortHigh    ReasoningEffort = "high"
)

type Request struct {
	System          string
	User            string
	MaxOutputTokens int
	Temperature     *float64
	ReasoningEffort ReasoningEffort
	JSONSchema      map[string]any
}

type CallResult struct {
	OutputText       string
	RawResponse      any
	InputTokens      int64
	OutputTokens     int64
	Endpoint         string
	StructuredOutput map[string]any
}

type QuotaCheckResult struct {
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
	RemainingQuota *int64 `json:"remaining_quota,omitempty"`
	ExpectedCalls  *int64 `json:"expected_calls,omitempty"`
}

type QuotaStatus struct {
	Provider  string    `json:"provider"`
	Resource  string    `json:"resource"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type UsageState struct {
	Provider               string    `json:"provider"`
	CallsThisHour          int64     `json:"calls_this_hour"`
	SearchesThisHour       int64     `json:"searches_this_hour"`
	ThinkingTokensThisHour int64     `json:"thinking_tokens_this_hour"`
	LastResetAt            time.Time `json:"last_reset_at"`
	SharedStoreDegraded    bool      `json:"shared_store_degraded"`
}

// Call ledger outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "quota_rejected"
)

// CallRecord is one entry of the orchestrator's call ledger.
type CallRecord struct {
	ID           string  `json:"id"`
	Task         string  `json:"task"`
	Tier         string  `json:"tier"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Endpoint     string  `json:"endpoint"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostCredits  float64 `json:"cost_credits"`
	LatencyMS    int64   `json:"latency_ms"`
	Outcome      string  `json:"outcome"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type ProviderTotals struct {
	Calls        int     `json:"calls"`
	Failures     int     `json:"failures"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostCredits  float64 `json:"cost_credits"`
}

type Summary struct {
	Counts struct {
		Calls    int `json:"calls"`
		Failures int `json:"failures"`
	} `json:"counts"`
	Totals struct {
		InputTokens  int64                     `json:"input_tokens"`
		OutputTokens int64                     `json:"output_tokens"`
		CostCredits  float64                   `json:"cost_credits"`
		ByProvider   map[string]ProviderTotals `json:"by_provider"`
	} `json:"totals"`
}
