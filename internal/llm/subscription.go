package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/redact"
	"github.com/lamosty/aharadar-sub003/internal/runner"
)

// SubscriptionAdapter drives a logged-in vendor CLI (claude or codex) as a
// one-shot session. Subscription calls never report billed tokens; each
// success is recorded against the provider's hourly counters instead.
type SubscriptionAdapter struct {
	provider string
	settings Settings
	runner   runner.Runner
	recorder UsageRecorder
	logger   *log.Logger
}

func NewSubscriptionAdapter(provider string, settings Settings, r runner.Runner, recorder UsageRecorder) *SubscriptionAdapter {
	if r == nil {
		r = runner.Exec{}
	}
	return &SubscriptionAdapter{provider: provider, settings: settings, runner: r, recorder: recorder, logger: log.Default()}
}

// sessionOutcome is what one CLI transcript resolved to.
type sessionOutcome struct {
	text     string
	raw      any
	searches int64
}

func (a *SubscriptionAdapter) Call(ctx context.Context, ref domain.ModelRef, request domain.Request) (domain.CallResult, error) {
	opts, thinkingBudget, err := a.commandFor(ref, request)
	if err != nil {
		return domain.CallResult{}, err
	}

	opts.OnEvent = a.logEvent(ref)
	run := a.runner.Run(ctx, opts)
	if run.Err != nil && run.ExitCode == 127 {
		return domain.CallResult{}, domain.Configuration(fmt.Sprintf("%s CLI not found at %q", a.provider, opts.Command))
	}
	if run.OutputTruncated {
		a.logf("subscription transcript truncated provider=%s model=%s max_bytes=%d duration=%s", a.provider, ref.Model, opts.MaxOutputBytes, run.Duration)
		return domain.CallResult{}, &ProviderError{
			Provider: a.provider,
			Endpoint: ref.Endpoint,
			Model:    ref.Model,
			Message:  fmt.Sprintf("transcript truncated at %d bytes; raise LLM_SUBSCRIPTION_MAX_OUTPUT_BYTES", opts.MaxOutputBytes),
			Fatal:    true,
		}
	}

	var outcome sessionOutcome
	switch a.provider {
	case domain.ProviderClaudeSubscription:
		outcome, err = parseClaudeOutput(run.Stdout)
	case domain.ProviderCodexSubscription:
		outcome, err = parseCodexOutput(run.Stdout)
	default:
		err = domain.Configuration(fmt.Sprintf("unsupported subscription provider %q", a.provider))
	}
	if err != nil {
		if _, coded := domain.AsAppError(err); coded {
			return domain.CallResult{}, err
		}
		if run.Err != nil || run.ExitCode != 0 {
			err = fmt.Errorf("exit code %d: %s (%v)", run.ExitCode, firstNonEmpty(run.Stderr, run.Stdout, errorText(run.Err)), err)
		}
		return domain.CallResult{}, &ProviderError{
			Provider: a.provider,
			Endpoint: ref.Endpoint,
			Model:    ref.Model,
			Snippet:  truncate(redact.String(strings.TrimSpace(run.Stderr)), maxSnippetChars),
			Message:  redact.String(err.Error()),
		}
	}

	a.record(domain.ResourceCalls, 1)
	a.record(domain.ResourceSearches, outcome.searches)
	a.record(domain.ResourceThinkingTokens, int64(thinkingBudget))

	return domain.CallResult{
		OutputText:  outcome.text,
		RawResponse: outcome.raw,
		Endpoint:    ref.Endpoint,
	}, nil
}

// logEvent surfaces runner events that point at a broken CLI session.
func (a *SubscriptionAdapter) logEvent(ref domain.ModelRef) func(runner.Event) {
	return func(event runner.Event) {
		switch event.Type {
		case "process_ended":
			if code, _ := event.Data["exit_code"].(int); code == 0 {
				return
			}
		case "process_warn", "process_error":
		default:
			return
		}
		a.logf("subscription cli event provider=%s model=%s type=%s message=%q data=%v", a.provider, ref.Model, event.Type, event.Message, event.Data)
	}
}

func (a *SubscriptionAdapter) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

func (a *SubscriptionAdapter) record(resource string, delta int64) {
	if a.recorder == nil || delta <= 0 {
		return
	}
	a.recorder.Record(a.provider, resource, delta)
}

func (a *SubscriptionAdapter) commandFor(ref domain.ModelRef, request domain.Request) (runner.Options, int, error) {
	opts := runner.Options{
		Command:        ref.Endpoint,
		Dir:            a.settings.SubscriptionWorkDir,
		UsePTY:         a.settings.SubscriptionUsePTY,
		MaxOutputBytes: a.settings.SubscriptionMaxBytes,
	}
	switch a.provider {
	case domain.ProviderClaudeSubscription:
		if opts.Command == "" {
			opts.Command = a.settings.ClaudeCLIPath
		}
		opts.Args = []string{"-p", "--output-format", "json", "--model", ref.Model}
		if request.System != "" {
			opts.Args = append(opts.Args, "--system-prompt", request.System)
		}
		opts.Stdin = request.User
		budget := 0
		if a.settings.ClaudeThinking {
			budget = a.settings.ClaudeThinkingBudget
			opts.Env = []string{"MAX_THINKING_TOKENS=" + strconv.Itoa(budget)}
		}
		return opts, budget, nil
	case domain.ProviderCodexSubscription:
		if opts.Command == "" {
			opts.Command = a.settings.CodexCLIPath
		}
		opts.Args = []string{"exec", "--json", "--skip-git-repo-check", "-m", ref.Model}
		if effort := codexEffort(request.ReasoningEffort); effort != "" {
			opts.Args = append(opts.Args, "-c", "model_reasoning_effort="+effort)
		}
		opts.Args = append(opts.Args, "-")
		opts.Stdin = joinPrompt(request.System, request.User)
		return opts, 0, nil
	default:
		return runner.Options{}, 0, domain.Configuration(fmt.Sprintf("unsupported subscription provider %q", a.provider))
	}
}

// codexEffort maps onto the levels the codex CLI accepts.
func codexEffort(effort domain.ReasoningEffort) string {
	switch effort {
	case "":
		return ""
	case domain.EffortNone:
		return string(domain.EffortMinimal)
	default:
		return string(effort)
	}
}

func joinPrompt(system, user string) string {
	if strings.TrimSpace(system) == "" {
		return user
	}
	return system + "\n\n" + user
}

// parseClaudeOutput accepts the single result object printed by
// `claude -p --output-format json`, or an array of events ending in one.
func parseClaudeOutput(stdout string) (sessionOutcome, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return sessionOutcome{}, fmt.Errorf("claude produced no output")
	}

	var result map[string]any
	if strings.HasPrefix(trimmed, "[") {
		var events []map[string]any
		if err := json.Unmarshal([]byte(trimmed), &events); err != nil {
			return sessionOutcome{}, fmt.Errorf("decode claude output: %w", err)
		}
		for i := len(events) - 1; i >= 0; i-- {
			if eventType, _ := events[i]["type"].(string); eventType == "result" {
				result = events[i]
				break
			}
		}
	} else if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return sessionOutcome{}, fmt.Errorf("decode claude output: %w", err)
	}
	if result == nil {
		return sessionOutcome{}, fmt.Errorf("claude output has no result event")
	}

	if isError, _ := result["is_error"].(bool); isError {
		message, _ := result["result"].(string)
		if message == "" {
			message, _ = result["subtype"].(string)
		}
		return sessionOutcome{}, fmt.Errorf("claude session error: %s", message)
	}

	text, _, ok := ExtractText(result)
	if !ok {
		return sessionOutcome{}, fmt.Errorf("claude result contained no text")
	}
	var searches int64
	if usage, ok := result["usage"].(map[string]any); ok {
		if tools, ok := usage["server_tool_use"].(map[string]any); ok {
			searches = firstNumber(tools, "web_search_requests")
		}
	}
	return sessionOutcome{text: text, raw: result, searches: searches}, nil
}

// parseCodexOutput reads the JSONL event stream of `codex exec --json`. The
// last agent message wins; error events fail the call.
func parseCodexOutput(stdout string) (sessionOutcome, error) {
	var (
		text   string
		events []map[string]any
		failed string
	)
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)

		eventType, _ := event["type"].(string)
		switch eventType {
		case "item.completed":
			item, _ := event["item"].(map[string]any)
			itemType, _ := item["type"].(string)
			if itemType == "agent_message" || itemType == "assistant_message" {
				if value, _ := item["text"].(string); strings.TrimSpace(value) != "" {
					text = value
				}
			}
		case "error":
			failed, _ = event["message"].(string)
		case "turn.failed":
			if detail, ok := event["error"].(map[string]any); ok {
				failed, _ = detail["message"].(string)
			}
			if failed == "" {
				failed = "turn failed"
			}
		}

		if msg, ok := event["msg"].(map[string]any); ok {
			switch msgType, _ := msg["type"].(string); msgType {
			case "agent_message":
				if value, _ := msg["message"].(string); strings.TrimSpace(value) != "" {
					text = value
				}
			case "error":
				failed, _ = msg["message"].(string)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return sessionOutcome{}, fmt.Errorf("read codex output: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		if failed != "" {
			return sessionOutcome{}, fmt.Errorf("codex session error: %s", failed)
		}
		return sessionOutcome{}, fmt.Errorf("codex produced no agent message")
	}
	return sessionOutcome{text: strings.TrimSpace(text), raw: events}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return truncate(trimmed, maxSnippetChars)
		}
	}
	return ""
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
