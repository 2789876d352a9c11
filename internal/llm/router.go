package llm

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/llmerr"
	"github.com/lamosty/aharadar-sub003/internal/runner"
)

// Router is what task executors depend on.
type Router interface {
	ChooseModel(task domain.TaskType, tier domain.BudgetTier) (domain.ModelRef, error)
	Call(ctx context.Context, task domain.TaskType, ref domain.ModelRef, request domain.Request) (domain.CallResult, error)
}

// Adapter speaks one provider wire protocol.
type Adapter interface {
	Call(ctx context.Context, ref domain.ModelRef, request domain.Request) (domain.CallResult, error)
}

// UsageRecorder receives subscription usage after successful calls.
type UsageRecorder interface {
	Record(provider, resource string, delta int64)
}

type ModelRouter struct {
	settings Settings
	adapters map[string]Adapter
	logger   *log.Logger
}

type Option func(*routerOptions)

type routerOptions struct {
	httpClient *http.Client
	runner     runner.Runner
	recorder   UsageRecorder
	logger     *log.Logger
	adapters   map[string]Adapter
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *routerOptions) { o.httpClient = client }
}

func WithRunner(r runner.Runner) Option {
	return func(o *routerOptions) { o.runner = r }
}

func WithUsageRecorder(recorder UsageRecorder) Option {
	return func(o *routerOptions) { o.recorder = recorder }
}

func WithLogger(logger *log.Logger) Option {
	return func(o *routerOptions) { o.logger = logger }
}

// WithAdapter replaces the adapter for provider.
func WithAdapter(provider string, adapter Adapter) Option {
	return func(o *routerOptions) { o.adapters[provider] = adapter }
}

func NewRouter(settings Settings, opts ...Option) *ModelRouter {
	options := routerOptions{adapters: map[string]Adapter{}}
	for _, opt := range opts {
		opt(&options)
	}
	if options.httpClient == nil {
		options.httpClient = &http.Client{Timeout: settings.HTTPTimeout}
	}
	if options.runner == nil {
		options.runner = runner.Exec{}
	}
	if options.logger == nil {
		options.logger = log.Default()
	}

	adapters := map[string]Adapter{
		domain.ProviderOpenAI:    &OpenAIAdapter{apiKey: settings.OpenAIAPIKey, client: options.httpClient},
		domain.ProviderAnthropic: &AnthropicAdapter{apiKey: settings.AnthropicAPIKey, version: settings.AnthropicVersion, client: options.httpClient},
		domain.ProviderClaudeSubscription: &SubscriptionAdapter{
			provider: domain.ProviderClaudeSubscription,
			settings: settings,
			runner:   options.runner,
			recorder: options.recorder,
			logger:   options.logger,
		},
		domain.ProviderCodexSubscription: &SubscriptionAdapter{
			provider: domain.ProviderCodexSubscription,
			settings: settings,
			runner:   options.runner,
			recorder: options.recorder,
			logger:   options.logger,
		},
	}
	for provider, adapter := range options.adapters {
		adapters[provider] = adapter
	}

	return &ModelRouter{
		settings: settings,
		adapters: adapters,
		logger:   options.logger,
	}
}

func (r *ModelRouter) Settings() Settings {
	return r.settings
}

// ChooseModel resolves provider and model with precedence task+tier override,
// task override, global default, then the hard-coded tier default. A model
// override only applies when it sits at the same or a more specific level
// than the override that picked the provider.
func (r *ModelRouter) ChooseModel(task domain.TaskType, tier domain.BudgetTier) (domain.ModelRef, error) {
	if !task.Valid() {
		return domain.ModelRef{}, domain.InvalidArgument(fmt.Sprintf("unknown task %q", task))
	}
	src := r.settings.Source
	levels := []string{
		"LLM_" + task.EnvKey() + "_" + tier.EnvKey() + "_",
		"LLM_" + task.EnvKey() + "_",
		"LLM_",
	}

	provider := ""
	providerLevel := len(levels)
	for index, prefix := range levels {
		if value := strings.ToLower(src.Get(prefix + "PROVIDER")); value != "" {
			provider = value
			providerLevel = index
			break
		}
	}
	if provider == "" {
		provider = r.settings.DefaultProvider
	}

	model := ""
	for index, prefix := range levels {
		if index > providerLevel {
			break
		}
		if value := src.Get(prefix + "MODEL"); value != "" {
			model = value
			break
		}
	}
	if model == "" {
		model = tierDefaults[provider][tier]
	}

	if err := r.settings.credentialError(provider); err != nil {
		return domain.ModelRef{}, err
	}
	if model == "" {
		return domain.ModelRef{}, domain.Configuration(fmt.Sprintf("no model configured for task %s tier %s on provider %s", task, tier, provider))
	}

	return domain.ModelRef{
		Provider: provider,
		Model:    model,
		Endpoint: r.settings.endpointFor(provider),
	}, nil
}

// Call dispatches to the adapter for ref.Provider. Returned errors are
// already auth-classified.
func (r *ModelRouter) Call(ctx context.Context, task domain.TaskType, ref domain.ModelRef, request domain.Request) (domain.CallResult, error) {
	if err := r.settings.credentialError(ref.Provider); err != nil {
		return domain.CallResult{}, err
	}
	adapter, ok := r.adapters[ref.Provider]
	if !ok {
		return domain.CallResult{}, domain.Configuration(fmt.Sprintf("no adapter registered for provider %q", ref.Provider))
	}
	if request.ReasoningEffort == "" {
		request.ReasoningEffort = r.settings.ReasoningEffort(task)
	}

	result, err := adapter.Call(ctx, ref, request)
	if err != nil {
		classified := llmerr.Classify(err)
		r.logger.Printf("llm call failed task=%s provider=%s model=%s error=%v", task, ref.Provider, ref.Model, classified)
		return domain.CallResult{}, classified
	}
	if result.Endpoint == "" {
		result.Endpoint = ref.Endpoint
	}
	return result, nil
}
