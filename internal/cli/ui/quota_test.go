package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/service"
)

func sampleReport() service.QuotaReport {
	reset := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	return service.QuotaReport{
		Statuses: []domain.QuotaStatus{
			{Provider: "claude-subscription", Resource: "calls", Used: 40, Limit: 100, Remaining: 60, ResetAt: reset},
			{Provider: "codex-subscription", Resource: "calls", Used: 25, Limit: 25, Remaining: 0, ResetAt: reset},
		},
		Usage: []domain.UsageState{{Provider: "codex-subscription", SharedStoreDegraded: true}},
	}
}

func TestQuotaModelRendersReport(t *testing.T) {
	m := NewQuotaModel(func(context.Context) (service.QuotaReport, error) { return sampleReport(), nil }, time.Second)

	updated, cmd := m.Update(reportMsg{report: sampleReport(), at: time.Now()})
	require.NotNil(t, cmd)
	view := updated.View()
	assert.Contains(t, view, "claude-subscription")
	assert.Contains(t, view, "40/100 used, 60 left")
	assert.Contains(t, view, "25/25 used, 0 left")
	assert.Contains(t, view, "shared usage store degraded")
	assert.NotContains(t, view, "refreshing")
}

func TestQuotaModelKeepsLastReportOnError(t *testing.T) {
	m := NewQuotaModel(nil, time.Second)
	next, _ := m.Update(reportMsg{report: sampleReport(), at: time.Now()})
	next, _ = next.Update(reportMsg{err: errors.New("connection refused"), at: time.Now()})

	view := next.View()
	assert.Contains(t, view, "codex-subscription")
	assert.Contains(t, view, "refresh failed: connection refused")
}

func TestQuotaModelFetchCmdCallsFetcher(t *testing.T) {
	calls := 0
	m := NewQuotaModel(func(context.Context) (service.QuotaReport, error) {
		calls++
		return sampleReport(), nil
	}, time.Second)

	msg := m.fetchCmd()()
	report, ok := msg.(reportMsg)
	require.True(t, ok)
	assert.Equal(t, 1, calls)
	assert.Len(t, report.report.Statuses, 2)
}

func TestQuotaModelFilter(t *testing.T) {
	m := NewQuotaModel(nil, time.Second)
	next, _ := m.Update(reportMsg{report: sampleReport(), at: time.Now()})

	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	for _, r := range "codex" {
		next, _ = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyEnter})

	qm := next.(QuotaModel)
	assert.False(t, qm.filtering)
	statuses := qm.visibleStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "codex-subscription", statuses[0].Provider)
}

func TestQuotaModelQuitAndRefreshKeys(t *testing.T) {
	m := NewQuotaModel(func(context.Context) (service.QuotaReport, error) { return sampleReport(), nil }, time.Second)
	loaded, _ := m.Update(reportMsg{report: sampleReport(), at: time.Now()})

	refreshing, cmd := loaded.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	assert.True(t, refreshing.(QuotaModel).loading)

	_, cmd = loaded.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestUsageBar(t *testing.T) {
	assert.Equal(t, 24, len([]rune(usageBar(5, 10))))
	assert.Equal(t, "████████████░░░░░░░░░░░░", usageBar(5, 10))
	assert.Equal(t, "████████████████████████", usageBar(30, 10))
}
