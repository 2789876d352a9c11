// Package service is the facade the transports call: it resolves a task's
// model, runs the quota pre-flight for subscription providers, dispatches to
// the task executor, and keeps the call ledger.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/llm"
	"github.com/lamosty/aharadar-sub003/internal/llmerr"
	"github.com/lamosty/aharadar-sub003/internal/quota"
	"github.com/lamosty/aharadar-sub003/internal/redact"
	"github.com/lamosty/aharadar-sub003/internal/store"
	"github.com/lamosty/aharadar-sub003/internal/tasks"
)

// UsageReporter exposes per-provider usage for health output; *usage.Store
// satisfies it.
type UsageReporter interface {
	Snapshot(ctx context.Context, provider string) domain.UsageState
	Shared() bool
}

type Orchestrator struct {
	router       llm.Router
	executor     *tasks.Executor
	gate         *quota.Gate
	ledger       store.Ledger
	ledgerSource string
	usage        UsageReporter
	logger       *log.Logger
	now          func() time.Time
	started      time.Time
}

type Option func(*Orchestrator)

func WithUsageReporter(reporter UsageReporter) Option {
	return func(o *Orchestrator) { o.usage = reporter }
}

func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLedgerSource names the ledger backend in health output.
func WithLedgerSource(source string) Option {
	return func(o *Orchestrator) { o.ledgerSource = source }
}

func NewOrchestrator(router llm.Router, executor *tasks.Executor, gate *quota.Gate, ledger store.Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:       router,
		executor:     executor,
		gate:         gate,
		ledger:       ledger,
		ledgerSource: "memory",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.ledger == nil {
		o.ledger = store.NewMemoryStore()
	}
	o.started = o.now()
	return o
}

type RunTaskRequest struct {
	Task string `json:"task"`
	Tier string `json:"tier"`
	// ExpectedCalls sizes the quota pre-flight; zero means one call.
	ExpectedCalls int64           `json:"expected_calls"`
	Input         json.RawMessage `json:"input"`
}

type RunTaskResponse struct {
	CallID              string  `json:"call_id"`
	Task                string  `json:"task"`
	Tier                string  `json:"tier"`
	Provider            string  `json:"provider"`
	Model               string  `json:"model"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CostEstimateCredits float64 `json:"cost_estimate_credits"`
	Attempts            int     `json:"attempts"`
	Output              any     `json:"output"`
}

type CheckQuotaRequest struct {
	Provider      string `json:"provider"`
	ExpectedCalls int64  `json:"expected_calls"`
}

type QuotaStatusRequest struct {
	Provider string `json:"provider"`
}

type QuotaReport struct {
	Statuses []domain.QuotaStatus `json:"statuses"`
	Usage    []domain.UsageState  `json:"usage"`
}

type RecentCallsRequest struct {
	Limit int `json:"limit"`
}

// RunTask runs one named operation. Quota rejections, routing failures and
// executor failures are all written to the ledger before returning.
func (o *Orchestrator) RunTask(ctx context.Context, request RunTaskRequest) (RunTaskResponse, error) {
	name := strings.ToLower(strings.TrimSpace(request.Task))
	op, ok := operations[name]
	if !ok {
		return RunTaskResponse{}, domain.InvalidArgument(fmt.Sprintf("task must be one of: %s", strings.Join(OperationNames(), ", ")))
	}
	tier, err := domain.ParseBudgetTier(request.Tier)
	if err != nil {
		return RunTaskResponse{}, err
	}
	if request.ExpectedCalls < 0 {
		return RunTaskResponse{}, domain.InvalidArgument("expected_calls must be non-negative")
	}

	record := domain.CallRecord{
		ID:   uuid.NewString(),
		Task: name,
		Tier: string(tier),
	}
	started := o.now()

	ref, err := o.router.ChooseModel(op.task, tier)
	if err != nil {
		o.finish(ctx, &record, started, outcome{}, err)
		return RunTaskResponse{}, err
	}
	record.Provider, record.Model, record.Endpoint = ref.Provider, ref.Model, ref.Endpoint

	if domain.IsSubscriptionProvider(ref.Provider) {
		expected := request.ExpectedCalls
		if expected == 0 {
			expected = 1
		}
		check := o.gate.CheckQuotaForRun(ctx, ref.Provider, expected)
		if !check.OK {
			rejection := domain.ResourceExhausted(check.Error)
			o.finish(ctx, &record, started, outcome{}, rejection)
			return RunTaskResponse{}, rejection
		}
	}

	result, err := op.run(ctx, o.executor, tier, request.Input)
	o.finish(ctx, &record, started, result, err)
	if err != nil {
		return RunTaskResponse{}, err
	}
	return RunTaskResponse{
		CallID:              record.ID,
		Task:                name,
		Tier:                string(tier),
		Provider:            result.provider,
		Model:               result.model,
		InputTokens:         result.inputTokens,
		OutputTokens:        result.outputTokens,
		CostEstimateCredits: result.cost,
		Attempts:            result.attempts,
		Output:              result.output,
	}, nil
}

func (o *Orchestrator) finish(ctx context.Context, record *domain.CallRecord, started time.Time, result outcome, err error) {
	if result.provider != "" {
		record.Provider, record.Model, record.Endpoint = result.provider, result.model, result.endpoint
	}
	record.InputTokens = result.inputTokens
	record.OutputTokens = result.outputTokens
	record.CostCredits = result.cost
	record.LatencyMS = o.now().Sub(started).Milliseconds()
	record.CreatedAt = o.now().UTC().Format(time.RFC3339Nano)
	record.Outcome = domain.OutcomeSuccess
	if err != nil {
		record.Outcome = domain.OutcomeError
		record.ErrorCode = errorCode(err)
		if record.ErrorCode == string(domain.CodeResourceExhausted) {
			record.Outcome = domain.OutcomeRejected
		}
		record.ErrorMessage = redact.String(err.Error())
	}

	if appendErr := o.ledger.Append(ctx, *record); appendErr != nil {
		o.logger.Printf("ledger append failed id=%s task=%s error=%v", record.ID, record.Task, appendErr)
	}
}

func errorCode(err error) string {
	if appErr, ok := domain.AsAppError(llmerr.Classify(err)); ok {
		return string(appErr.Code)
	}
	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) {
		return string(domain.CodeProvider)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return string(domain.CodeInternal)
}

// CheckQuotaForRun is the pre-flight check exposed to callers that plan a run
// of several calls before starting it.
func (o *Orchestrator) CheckQuotaForRun(ctx context.Context, request CheckQuotaRequest) (domain.QuotaCheckResult, error) {
	provider := strings.TrimSpace(request.Provider)
	if provider == "" {
		return domain.QuotaCheckResult{}, domain.InvalidArgument("provider is required")
	}
	if request.ExpectedCalls < 0 {
		return domain.QuotaCheckResult{}, domain.InvalidArgument("expected_calls must be non-negative")
	}
	return o.gate.CheckQuotaForRun(ctx, provider, request.ExpectedCalls), nil
}

// QuotaStatus reports limits and usage for one provider, or for every limited
// provider when the request names none.
func (o *Orchestrator) QuotaStatus(ctx context.Context, request QuotaStatusRequest) QuotaReport {
	provider := strings.TrimSpace(request.Provider)
	report := QuotaReport{Statuses: []domain.QuotaStatus{}, Usage: []domain.UsageState{}}
	var providers []string
	if provider == "" {
		report.Statuses = append(report.Statuses, o.gate.StatusAll(ctx)...)
		for name := range o.gate.Limits() {
			providers = append(providers, name)
		}
		sort.Strings(providers)
	} else {
		report.Statuses = append(report.Statuses, o.gate.Status(ctx, provider)...)
		providers = []string{provider}
	}
	if o.usage != nil {
		for _, name := range providers {
			report.Usage = append(report.Usage, o.usage.Snapshot(ctx, name))
		}
	}
	return report
}

func (o *Orchestrator) Summary(ctx context.Context) (domain.Summary, error) {
	return o.ledger.Summary(ctx)
}

func (o *Orchestrator) RecentCalls(ctx context.Context, request RecentCallsRequest) ([]domain.CallRecord, error) {
	if request.Limit < 0 {
		return nil, domain.InvalidArgument("limit must be non-negative")
	}
	limit := request.Limit
	if limit == 0 {
		limit = 50
	}
	return o.ledger.Recent(ctx, limit)
}

func (o *Orchestrator) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status":         "ok",
		"ledger":         o.ledgerSource,
		"time_utc":       o.now().UTC().Format(time.RFC3339Nano),
		"uptime_seconds": int64(o.now().Sub(o.started).Seconds()),
		"tasks":          OperationNames(),
	}
	if o.usage != nil {
		degraded := false
		for provider := range o.gate.Limits() {
			if o.usage.Snapshot(ctx, provider).SharedStoreDegraded {
				degraded = true
			}
		}
		health["usage_store_shared"] = o.usage.Shared()
		health["usage_store_degraded"] = degraded
		if degraded {
			health["status"] = "degraded"
		}
	}
	return health
}
