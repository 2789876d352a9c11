package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamosty/aharadar-sub003/internal/config"
	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/llm"
	"github.com/lamosty/aharadar-sub003/internal/quota"
	"github.com/lamosty/aharadar-sub003/internal/service"
	"github.com/lamosty/aharadar-sub003/internal/store"
	"github.com/lamosty/aharadar-sub003/internal/tasks"
	"github.com/lamosty/aharadar-sub003/internal/usage"
)

func newTestHandler(t *testing.T, records ...domain.CallRecord) (http.Handler, *usage.Store) {
	t.Helper()
	quiet := log.New(&bytes.Buffer{}, "", 0)
	src := config.MapSource(map[string]string{"CODEX_CALLS_PER_HOUR": "8"})
	settings := llm.LoadSettings(src)
	usageStore := usage.NewStore(nil, usage.WithLogger(quiet))
	router := llm.NewRouter(settings, llm.WithLogger(quiet))
	ledger := store.NewMemoryStore()
	for _, record := range records {
		require.NoError(t, ledger.Append(context.Background(), record))
	}
	orchestrator := service.NewOrchestrator(router,
		tasks.NewExecutor(router, settings, tasks.WithLogger(quiet)),
		quota.NewGate(usageStore, quota.LimitsFromSource(src)),
		ledger,
		service.WithLogger(quiet),
	)
	return NewHandler(orchestrator), usageStore
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
	return recorder
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := get(t, handler, "/healthz")
	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["ledger"])
}

func TestQuotaEndpointFiltersByProvider(t *testing.T) {
	handler, usageStore := newTestHandler(t)
	usageStore.Record(domain.ProviderCodexSubscription, domain.ResourceCalls, 3)

	recorder := get(t, handler, "/api/quota?provider=codex-subscription")
	require.Equal(t, http.StatusOK, recorder.Code)

	var report service.QuotaReport
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	require.Len(t, report.Statuses, 1)
	assert.Equal(t, int64(3), report.Statuses[0].Used)
	assert.Equal(t, int64(5), report.Statuses[0].Remaining)
}

func TestCallsEndpoint(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler, _ := newTestHandler(t,
		domain.CallRecord{ID: "c1", Task: "triage", Provider: "openai", Outcome: domain.OutcomeSuccess, CreatedAt: now.Format(time.RFC3339Nano)},
		domain.CallRecord{ID: "c2", Task: "deep_summary", Provider: "openai", Outcome: domain.OutcomeError, CreatedAt: now.Add(time.Minute).Format(time.RFC3339Nano)},
	)

	recorder := get(t, handler, "/api/calls?limit=1")
	require.Equal(t, http.StatusOK, recorder.Code)
	var records []domain.CallRecord
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "c2", records[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, handler, "/api/calls?limit=-4").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, handler, "/api/calls?limit=many").Code)
}

func TestSummaryEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t,
		domain.CallRecord{ID: "c1", Provider: "openai", Outcome: domain.OutcomeSuccess, InputTokens: 10, CreatedAt: "2026-03-01T12:00:00Z"},
		domain.CallRecord{ID: "c2", Provider: "openai", Outcome: domain.OutcomeError, CreatedAt: "2026-03-01T12:01:00Z"},
	)

	recorder := get(t, handler, "/api/summary")
	require.Equal(t, http.StatusOK, recorder.Code)
	var summary domain.Summary
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Counts.Calls)
	assert.Equal(t, 1, summary.Counts.Failures)
	assert.Equal(t, int64(10), summary.Totals.InputTokens)
}

func TestUnknownPathIsNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)
	assert.Equal(t, http.StatusNotFound, get(t, handler, "/nope").Code)
	assert.Equal(t, http.StatusOK, get(t, handler, "/").Code)
}
