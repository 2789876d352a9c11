package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/lamosty/aharadar-sub003/internal/config"
	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/runner"
)

const (
	DefaultOpenAIEndpoint    = "https://api.openai.com/v1/responses"
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	DefaultAnthropicVersion  = "2023-06-01"
	defaultHTTPTimeout       = 120 * time.Second
	defaultThinkingBudget    = 4096
)

var tierDefaults = map[string]map[domain.BudgetTier]string{
	domain.ProviderOpenAI: {
		domain.TierLow:    "gpt-5-nano",
		domain.TierNormal: "gpt-5-mini",
		domain.TierHigh:   "gpt-5",
	},
	domain.ProviderAnthropic: {
		domain.TierLow:    "claude-3-5-haiku-latest",
		domain.TierNormal: "claude-sonnet-4-5",
		domain.TierHigh:   "claude-opus-4-1",
	},
	domain.ProviderClaudeSubscription: {
		domain.TierLow:    "haiku",
		domain.TierNormal: "sonnet",
		domain.TierHigh:   "opus",
	},
	domain.ProviderCodexSubscription: {
		domain.TierLow:    "gpt-5-codex-mini",
		domain.TierNormal: "gpt-5-codex",
		domain.TierHigh:   "gpt-5-codex",
	},
}

var defaultMaxOutputTokens = map[domain.BudgetTier]int{
	domain.TierLow:    600,
	domain.TierNormal: 1200,
	domain.TierHigh:   2400,
}

// Settings is the read-only routing configuration for one process lifetime.
type Settings struct {
	Source               config.Source
	DefaultProvider      string
	OpenAIAPIKey         string
	OpenAIEndpoint       string
	AnthropicAPIKey      string
	AnthropicEndpoint    string
	AnthropicVersion     string
	ClaudeCLIPath        string
	CodexCLIPath         string
	SubscriptionUsePTY   bool
	SubscriptionMaxBytes int
	SubscriptionWorkDir  string
	ClaudeThinking       bool
	ClaudeThinkingBudget int
	HTTPTimeout          time.Duration
}

func LoadSettings(src config.Source) Settings {
	return Settings{
		Source:               src,
		DefaultProvider:      domain.ProviderOpenAI,
		OpenAIAPIKey:         src.Get("OPENAI_API_KEY"),
		OpenAIEndpoint:       src.String("OPENAI_ENDPOINT", DefaultOpenAIEndpoint),
		AnthropicAPIKey:      src.Get("ANTHROPIC_API_KEY"),
		AnthropicEndpoint:    src.String("ANTHROPIC_ENDPOINT", DefaultAnthropicEndpoint),
		AnthropicVersion:     src.String("ANTHROPIC_VERSION", DefaultAnthropicVersion),
		ClaudeCLIPath:        src.String("CLAUDE_CLI_PATH", "claude"),
		CodexCLIPath:         src.String("CODEX_CLI_PATH", "codex"),
		SubscriptionUsePTY:   src.Bool("LLM_SUBSCRIPTION_USE_PTY", false),
		SubscriptionMaxBytes: src.PositiveInt("LLM_SUBSCRIPTION_MAX_OUTPUT_BYTES", runner.DefaultMaxOutputBytes),
		SubscriptionWorkDir:  src.Get("LLM_SUBSCRIPTION_WORKDIR"),
		ClaudeThinking:       src.Bool("CLAUDE_ENABLE_THINKING", false),
		ClaudeThinkingBudget: src.PositiveInt("CLAUDE_THINKING_BUDGET", defaultThinkingBudget),
		HTTPTimeout:          time.Duration(src.PositiveInt("LLM_HTTP_TIMEOUT_SECONDS", int(defaultHTTPTimeout/time.Second))) * time.Second,
	}
}

// MaxOutputTokens resolves the output budget: task+tier, task, tier, default.
func (s Settings) MaxOutputTokens(task domain.TaskType, tier domain.BudgetTier) int {
	fallback := defaultMaxOutputTokens[tier]
	if fallback == 0 {
		fallback = defaultMaxOutputTokens[domain.TierNormal]
	}
	for _, key := range []string{
		"LLM_" + task.EnvKey() + "_" + tier.EnvKey() + "_MAX_OUTPUT_TOKENS",
		"LLM_" + task.EnvKey() + "_MAX_OUTPUT_TOKENS",
		"LLM_" + tier.EnvKey() + "_MAX_OUTPUT_TOKENS",
	} {
		if value := s.Source.PositiveInt(key, 0); value > 0 {
			return value
		}
	}
	return fallback
}

// ReasoningEffort resolves the requested effort for a task; empty means the
// provider default.
func (s Settings) ReasoningEffort(task domain.TaskType) domain.ReasoningEffort {
	raw := strings.ToLower(s.Source.First(
		"LLM_"+task.EnvKey()+"_REASONING_EFFORT",
		"LLM_REASONING_EFFORT",
	))
	switch domain.ReasoningEffort(raw) {
	case domain.EffortNone, domain.EffortMinimal, domain.EffortLow, domain.EffortMedium, domain.EffortHigh:
		return domain.ReasoningEffort(raw)
	default:
		return ""
	}
}

// Temperature resolves LLM_<TASK>_TEMPERATURE, then LLM_TEMPERATURE. Nil
// leaves the provider default in place.
func (s Settings) Temperature(task domain.TaskType) *float64 {
	for _, key := range []string{"LLM_" + task.EnvKey() + "_TEMPERATURE", "LLM_TEMPERATURE"} {
		if value := s.Source.Float(key, -1); value >= 0 && value <= 2 {
			return &value
		}
	}
	return nil
}

func (s Settings) endpointFor(provider string) string {
	switch provider {
	case domain.ProviderOpenAI:
		return s.OpenAIEndpoint
	case domain.ProviderAnthropic:
		return s.AnthropicEndpoint
	case domain.ProviderClaudeSubscription:
		return s.ClaudeCLIPath
	case domain.ProviderCodexSubscription:
		return s.CodexCLIPath
	default:
		return ""
	}
}

// credentialError returns a configuration error when provider cannot be
// called from this process. Subscription providers authenticate through the
// CLI login, which is only observable at call time.
func (s Settings) credentialError(provider string) error {
	switch provider {
	case domain.ProviderOpenAI:
		if s.OpenAIAPIKey == "" {
			return domain.Configuration("OPENAI_API_KEY is not set; required for provider openai")
		}
	case domain.ProviderAnthropic:
		if s.AnthropicAPIKey == "" {
			return domain.Configuration("ANTHROPIC_API_KEY is not set; required for provider anthropic")
		}
	case domain.ProviderClaudeSubscription:
		if s.ClaudeCLIPath == "" {
			return domain.Configuration("CLAUDE_CLI_PATH is empty; required for provider claude-subscription")
		}
	case domain.ProviderCodexSubscription:
		if s.CodexCLIPath == "" {
			return domain.Configuration("CODEX_CLI_PATH is empty; required for provider codex-subscription")
		}
	default:
		return domain.Configuration(fmt.Sprintf("unsupported LLM provider %q; expected openai|anthropic|claude-subscription|codex-subscription", provider))
	}
	return nil
}
