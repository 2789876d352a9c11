// Package cli implements the aharadar-llm command: remote quota checks, task
// runs against the orchestrator, and operator token minting.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/lamosty/aharadar-sub003/internal/auth"
	"github.com/lamosty/aharadar-sub003/internal/cli/ui"
	"github.com/lamosty/aharadar-sub003/internal/client"
	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/service"
)

// Remote is the part of client.Client the commands use.
type Remote interface {
	Health(ctx context.Context) (map[string]any, error)
	Summary(ctx context.Context) (domain.Summary, error)
	RecentCalls(ctx context.Context, limit int) ([]domain.CallRecord, error)
	QuotaStatus(ctx context.Context, provider string) (service.QuotaReport, error)
	CheckQuotaForRun(ctx context.Context, provider string, expectedCalls int64) (domain.QuotaCheckResult, error)
	RunTask(ctx context.Context, request service.RunTaskRequest) (map[string]any, error)
	Close() error
}

type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	Now    func() time.Time
	Dial   func(client.Config) (Remote, error)
	Watch  func(fetch ui.FetchFunc, interval time.Duration) error
}

func DefaultEnv() Env {
	return Env{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
		Now:    time.Now,
		Dial: func(cfg client.Config) (Remote, error) {
			return client.New(cfg)
		},
		Watch: ui.RunQuotaMonitor,
	}
}

func Run(args []string, commandName string) error {
	log.SetFlags(0)
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return RunWith(DefaultEnv(), path, args, commandName)
}

func RunWith(env Env, configPath string, args []string, commandName string) error {
	cfg, err := LoadConfig(configPath, env.Getenv)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if len(args) < 1 {
		usage(env.Stdout, commandName, configPath)
		return nil
	}

	switch args[0] {
	case "token":
		return tokenCommand(env, args[1:])
	case "health", "summary", "calls", "quota", "check-quota", "run":
	default:
		usage(env.Stdout, commandName, configPath)
		return nil
	}

	remote, err := env.Dial(cfg.ClientConfig(env.Getenv))
	if err != nil {
		return err
	}
	defer remote.Close()
	ctx := context.Background()

	switch args[0] {
	case "health":
		health, err := remote.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(env.Stdout, health)
	case "summary":
		summary, err := remote.Summary(ctx)
		if err != nil {
			return err
		}
		return printJSON(env.Stdout, summary)
	case "calls":
		return callsCommand(ctx, env, remote, args[1:])
	case "quota":
		if len(args) > 1 && args[1] == "watch" {
			return watchCommand(env, cfg, remote, args[2:])
		}
		return quotaCommand(ctx, env, remote, args[1:])
	case "check-quota":
		return checkQuotaCommand(ctx, env, remote, args[1:])
	default:
		return runCommand(ctx, env, remote, args[1:])
	}
}

func callsCommand(ctx context.Context, env Env, remote Remote, args []string) error {
	flags := newFlagSet("calls", env)
	limit := flags.Int("limit", 20, "number of recent calls")
	if err := flags.Parse(args); err != nil {
		return err
	}
	records, err := remote.RecentCalls(ctx, *limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(env.Stdout, "no calls recorded")
		return nil
	}
	for _, record := range records {
		line := fmt.Sprintf("%s %-18s %-6s %-20s %-24s %-14s in=%d out=%d %dms",
			record.CreatedAt, record.Task, record.Tier, record.Provider, record.Model,
			record.Outcome, record.InputTokens, record.OutputTokens, record.LatencyMS)
		if record.ErrorCode != "" {
			line += " error=" + record.ErrorCode
		}
		fmt.Fprintln(env.Stdout, line)
	}
	return nil
}

func quotaCommand(ctx context.Context, env Env, remote Remote, args []string) error {
	flags := newFlagSet("quota", env)
	provider := flags.String("provider", "", "subscription provider (default: all)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	report, err := remote.QuotaStatus(ctx, *provider)
	if err != nil {
		return err
	}
	if len(report.Statuses) == 0 {
		fmt.Fprintln(env.Stdout, "no limited providers")
		return nil
	}
	for _, status := range report.Statuses {
		fmt.Fprintf(env.Stdout, "%-20s %-16s %d/%d used, %d remaining, resets %s\n",
			status.Provider, status.Resource, status.Used, status.Limit, status.Remaining,
			status.ResetAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func watchCommand(env Env, cfg Config, remote Remote, args []string) error {
	flags := newFlagSet("quota watch", env)
	provider := flags.String("provider", "", "subscription provider (default: all)")
	interval := flags.Int("interval", cfg.WatchInterval, "refresh interval in seconds")
	if err := flags.Parse(args); err != nil {
		return err
	}
	fetch := func(ctx context.Context) (service.QuotaReport, error) {
		return remote.QuotaStatus(ctx, *provider)
	}
	return env.Watch(fetch, time.Duration(*interval)*time.Second)
}

func checkQuotaCommand(ctx context.Context, env Env, remote Remote, args []string) error {
	flags := newFlagSet("check-quota", env)
	provider := flags.String("provider", "", "subscription provider")
	expected := flags.Int64("expected", 1, "calls the run expects to make")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*provider) == "" {
		return fmt.Errorf("--provider is required")
	}
	result, err := remote.CheckQuotaForRun(ctx, *provider, *expected)
	if err != nil {
		return err
	}
	if err := printJSON(env.Stdout, result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("quota check failed: %s", result.Error)
	}
	return nil
}

func runCommand(ctx context.Context, env Env, remote Remote, args []string) error {
	flags := newFlagSet("run", env)
	task := flags.String("task", "", "operation name, e.g. triage or deep_summary")
	tier := flags.String("tier", "normal", "budget tier: low, normal or high")
	expected := flags.Int64("expected", 0, "calls the caller expects to make this run")
	inputPath := flags.String("input", "-", "JSON input file, - for stdin")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*task) == "" {
		return fmt.Errorf("--task is required (one of: %s)", strings.Join(service.OperationNames(), ", "))
	}

	var raw []byte
	var err error
	if *inputPath == "-" {
		raw, err = io.ReadAll(env.Stdin)
	} else {
		raw, err = os.ReadFile(*inputPath)
	}
	if err != nil {
		return fmt.Errorf("read task input: %w", err)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("task input is not valid JSON")
	}

	response, err := remote.RunTask(ctx, service.RunTaskRequest{
		Task:          *task,
		Tier:          *tier,
		ExpectedCalls: *expected,
		Input:         raw,
	})
	if err != nil {
		return err
	}
	return printJSON(env.Stdout, response)
}

func tokenCommand(env Env, args []string) error {
	flags := newFlagSet("token", env)
	caller := flags.String("caller", "", "caller name embedded in the token")
	ttl := flags.Duration("ttl", auth.DefaultTokenLifetime, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*caller) == "" {
		return fmt.Errorf("--caller is required")
	}
	secret := env.Getenv("AUTH_JWT_SECRET")
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("AUTH_JWT_SECRET must be set to mint tokens")
	}
	token, err := auth.IssueToken(secret, strings.TrimSpace(*caller), *ttl, env.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(env.Stdout, token)
	return nil
}

func newFlagSet(name string, env Env) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(env.Stderr)
	return flags
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func usage(w io.Writer, commandName, configPath string) {
	fmt.Fprintf(w, `%s - LLM task orchestrator client

Usage:
  %s health
  %s summary
  %s calls [--limit N]
  %s quota [--provider NAME]
  %s quota watch [--provider NAME] [--interval SECONDS]
  %s check-quota --provider NAME [--expected N]
  %s run --task NAME [--tier low|normal|high] [--expected N] [--input FILE|-]
  %s token --caller NAME [--ttl 1h]

Tasks: %s

Config file:
  %s
`, commandName, commandName, commandName, commandName, commandName, commandName, commandName, commandName, commandName,
		strings.Join(service.OperationNames(), ", "), configPath)
}
