package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamosty/aharadar-sub003/internal/auth"
	"github.com/lamosty/aharadar-sub003/internal/cli/ui"
	"github.com/lamosty/aharadar-sub003/internal/client"
	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/service"
)

type fakeRemote struct {
	dialed     client.Config
	runRequest service.RunTaskRequest
	check      domain.QuotaCheckResult
	provider   string
	closed     bool
}

func (f *fakeRemote) Health(context.Context) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

func (f *fakeRemote) Summary(context.Context) (domain.Summary, error) {
	var s domain.Summary
	s.Counts.Calls = 7
	return s, nil
}

func (f *fakeRemote) RecentCalls(_ context.Context, limit int) ([]domain.CallRecord, error) {
	return []domain.CallRecord{{
		ID: "c1", Task: "triage", Tier: "low", Provider: "openai", Model: "gpt-5-nano",
		Outcome: domain.OutcomeError, ErrorCode: "provider_error", CreatedAt: "2026-03-01T12:00:00Z",
	}}, nil
}

func (f *fakeRemote) QuotaStatus(_ context.Context, provider string) (service.QuotaReport, error) {
	f.provider = provider
	return service.QuotaReport{Statuses: []domain.QuotaStatus{{
		Provider: "codex-subscription", Resource: "calls", Used: 5, Limit: 25, Remaining: 20,
		ResetAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}}}, nil
}

func (f *fakeRemote) CheckQuotaForRun(_ context.Context, provider string, expected int64) (domain.QuotaCheckResult, error) {
	f.provider = provider
	return f.check, nil
}

func (f *fakeRemote) RunTask(_ context.Context, request service.RunTaskRequest) (map[string]any, error) {
	f.runRequest = request
	return map[string]any{"call_id": "abc"}, nil
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

type harness struct {
	env    Env
	remote *fakeRemote
	out    *bytes.Buffer
	vars   map[string]string
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()
	h := &harness{remote: &fakeRemote{check: domain.QuotaCheckResult{OK: true}}, out: &bytes.Buffer{}, vars: map[string]string{}}
	h.env = Env{
		Stdin:  strings.NewReader(stdin),
		Stdout: h.out,
		Stderr: &bytes.Buffer{},
		Getenv: func(key string) string { return h.vars[key] },
		Now:    time.Now,
		Dial: func(cfg client.Config) (Remote, error) {
			h.remote.dialed = cfg
			return h.remote, nil
		},
		Watch: func(ui.FetchFunc, time.Duration) error { return nil },
	}
	return h
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	return RunWith(h.env, filepath.Join(t.TempDir(), "missing.yaml"), args, "aharadar-llm")
}

func TestQuotaCommandPrintsStatuses(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run(t, "quota", "--provider", "codex-subscription"))
	assert.Equal(t, "codex-subscription", h.remote.provider)
	assert.Contains(t, h.out.String(), "5/25 used, 20 remaining, resets 2026-03-01T13:00:00Z")
	assert.True(t, h.remote.closed)
}

func TestRunCommandReadsStdin(t *testing.T) {
	h := newHarness(t, `{"id":"i1","title":"t"}`)
	h.vars["AHARADAR_LLM_TOKEN"] = "secret"

	require.NoError(t, h.run(t, "run", "--task", "triage", "--tier", "high", "--expected", "12"))
	assert.Equal(t, "triage", h.remote.runRequest.Task)
	assert.Equal(t, "high", h.remote.runRequest.Tier)
	assert.Equal(t, int64(12), h.remote.runRequest.ExpectedCalls)
	assert.JSONEq(t, `{"id":"i1","title":"t"}`, string(h.remote.runRequest.Input))
	assert.Equal(t, "secret", h.remote.dialed.Token)
	assert.Contains(t, h.out.String(), `"call_id": "abc"`)
}

func TestRunCommandValidatesInput(t *testing.T) {
	h := newHarness(t, "not json")
	assert.Error(t, h.run(t, "run", "--task", "triage"))
	assert.Error(t, h.run(t, "run"))
}

func TestCheckQuotaCommandFailsWhenInsufficient(t *testing.T) {
	h := newHarness(t, "")
	h.remote.check = domain.QuotaCheckResult{OK: false, Error: "quota insufficient"}
	err := h.run(t, "check-quota", "--provider", "codex-subscription", "--expected", "30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota insufficient")
	assert.Contains(t, h.out.String(), `"ok": false`)

	assert.Error(t, h.run(t, "check-quota"))
}

func TestCallsCommand(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run(t, "calls", "--limit", "5"))
	assert.Contains(t, h.out.String(), "gpt-5-nano")
	assert.Contains(t, h.out.String(), "error=provider_error")
}

func TestQuotaWatchUsesMonitor(t *testing.T) {
	h := newHarness(t, "")
	var gotInterval time.Duration
	h.env.Watch = func(fetch ui.FetchFunc, interval time.Duration) error {
		gotInterval = interval
		_, err := fetch(context.Background())
		return err
	}
	require.NoError(t, h.run(t, "quota", "watch", "--provider", "claude-subscription", "--interval", "3"))
	assert.Equal(t, 3*time.Second, gotInterval)
	assert.Equal(t, "claude-subscription", h.remote.provider)
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	h := newHarness(t, "")
	assert.Error(t, h.run(t, "token", "--caller", "worker"))

	h.vars["AUTH_JWT_SECRET"] = "jwt-secret"
	require.NoError(t, h.run(t, "token", "--caller", "worker", "--ttl", "10m"))
	claims, err := auth.ParseToken("jwt-secret", strings.TrimSpace(h.out.String()))
	require.NoError(t, err)
	assert.Equal(t, "worker", claims.Caller)
}

func TestLoadConfigFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm-cli.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grpc_addr: llm.internal:443\nretry_attempts: 5\n"), 0o600))

	cfg, err := LoadConfig(path, func(string) string { return "" })
	require.NoError(t, err)
	assert.Equal(t, "llm.internal:443", cfg.GRPCAddr)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, 10, cfg.RequestTimeout)

	cfg, err = LoadConfig(path, func(key string) string {
		return map[string]string{"AHARADAR_LLM_ADDR": "127.0.0.1:6000", "AHARADAR_LLM_INSECURE": "true"}[key]
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.GRPCAddr)
	assert.True(t, cfg.GRPCInsecure)
}

func TestUnknownCommandPrintsUsage(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run(t, "bogus"))
	assert.Contains(t, h.out.String(), "Usage:")
	assert.Contains(t, h.out.String(), "triage_batch")
}
