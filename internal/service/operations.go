package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/tasks"
)

const OperationTriageBatch = "triage_batch"

type outcome struct {
	output       any
	provider     string
	model        string
	endpoint     string
	inputTokens  int64
	outputTokens int64
	cost         float64
	attempts     int
}

type operation struct {
	task domain.TaskType
	run  func(ctx context.Context, executor *tasks.Executor, tier domain.BudgetTier, input json.RawMessage) (outcome, error)
}

// Batch triage routes under the triage task but is its own operation.
var operations = map[string]operation{
	string(domain.TaskTriage): {
		task: domain.TaskTriage,
		run: func(ctx context.Context, e *tasks.Executor, tier domain.BudgetTier, input json.RawMessage) (outcome, error) {
			return invoke(ctx, input, tier, e.Triage)
		},
	},
	OperationTriageBatch: {
		task: domain.TaskTriage,
		run: func(ctx context.Context, e *tasks.Executor, tier domain.BudgetTier, input json.RawMessage) (outcome, error) {
			return invoke(ctx, input, tier, e.TriageBatch)
		},
	},
	string(domain.TaskDeepSummary): {
		task: domain.TaskDeepSummary,
		run: func(ctx context.Context, e *tasks.Executor, tier domain.BudgetTier, input json.RawMessage) (outcome, error) {
			return invoke(ctx, input, tier, e.DeepSummary)
		},
	},
	string(domain.TaskManualSummary): {
		task: domain.TaskManualSummary,
		run: func(ctx context.Context, e *tasks.Executor, tier domain.BudgetTier, input json.RawMessage) (outcome, error) {
			return invoke(ctx, input, tier, e.ManualSummary)
		},
	},
	string(domain.TaskAggregateSummary): {
		task: domain.TaskAggregateSummary,
		run: func(ctx context.Context, e *tasks.Executor, tier domain.BudgetTier, input json.RawMessage) (outcome, error) {
			return invoke(ctx, input, tier, e.AggregateSummary)
		},
	},
	string(domain.TaskCatchupPackSelect): {
		task: domain.TaskCatchupPackSelect,
		run: func(ctx context.Context, e *tasks.Executor, tier domain.BudgetTier, input json.RawMessage) (outcome, error) {
			return invoke(ctx, input, tier, e.CatchupPackSelect)
		},
	},
	string(domain.TaskCatchupPackTier): {
		task: domain.TaskCatchupPackTier,
		run: func(ctx context.Context, e *tasks.Executor, tier domain.BudgetTier, input json.RawMessage) (outcome, error) {
			return invoke(ctx, input, tier, e.CatchupPackTier)
		},
	},
}

func OperationNames() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func invoke[In, Out any](
	ctx context.Context,
	raw json.RawMessage,
	tier domain.BudgetTier,
	fn func(context.Context, domain.BudgetTier, In) (tasks.Result[Out], error),
) (outcome, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return outcome{}, domain.InvalidArgument("input is required")
	}
	var input In
	if err := json.Unmarshal(raw, &input); err != nil {
		return outcome{}, domain.InvalidArgument(fmt.Sprintf("input shape is invalid: %v", err))
	}

	result, err := fn(ctx, tier, input)
	return outcome{
		output:       result.Output,
		provider:     result.Provider,
		model:        result.Model,
		endpoint:     result.Endpoint,
		inputTokens:  result.InputTokens,
		outputTokens: result.OutputTokens,
		cost:         result.CostEstimateCredits,
		attempts:     result.Attempts,
	}, err
}
