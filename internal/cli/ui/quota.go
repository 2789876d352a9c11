// Package ui holds the terminal quota monitor behind `aharadar-llm quota watch`.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/service"
)

// FetchFunc loads one quota report. The monitor calls it on every refresh.
type FetchFunc func(ctx context.Context) (service.QuotaReport, error)

type reportMsg struct {
	report service.QuotaReport
	err    error
	at     time.Time
}

type tickMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

const barWidth = 24

type QuotaModel struct {
	fetch     FetchFunc
	interval  time.Duration
	spinner   spinner.Model
	filter    textinput.Model
	filtering bool
	loading   bool
	report    service.QuotaReport
	lastErr   error
	updatedAt time.Time
	width     int
}

func NewQuotaModel(fetch FetchFunc, interval time.Duration) QuotaModel {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	spin := spinner.New()
	spin.Spinner = spinner.Dot

	filter := textinput.New()
	filter.Prompt = "Provider: "
	filter.Placeholder = "substring, Enter to apply"

	return QuotaModel{
		fetch:    fetch,
		interval: interval,
		spinner:  spin,
		filter:   filter,
		loading:  true,
	}
}

func RunQuotaMonitor(fetch FetchFunc, interval time.Duration) error {
	program := tea.NewProgram(NewQuotaModel(fetch, interval), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func (m QuotaModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd())
}

func (m QuotaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		return m, nil
	case tea.KeyMsg:
		if typed.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.filtering {
			return m.updateFilter(typed)
		}
		switch typed.String() {
		case "q", "esc":
			return m, tea.Quit
		case "r":
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, m.fetchCmd()
		case "/":
			m.filtering = true
			cmd := m.filter.Focus()
			return m, cmd
		}
		return m, nil
	case reportMsg:
		m.loading = false
		m.updatedAt = typed.at
		m.lastErr = typed.err
		if typed.err == nil {
			m.report = typed.report
		}
		return m, m.tickCmd()
	case tickMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetchCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}
	return m, nil
}

func (m QuotaModel) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.filtering = false
		m.filter.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	return m, cmd
}

func (m QuotaModel) View() string {
	lines := []string{titleStyle.Render("Subscription quota"), ""}

	statuses := m.visibleStatuses()
	if len(statuses) == 0 && !m.loading {
		lines = append(lines, mutedStyle.Render("no limited providers"))
	}
	for _, status := range statuses {
		lines = append(lines, renderStatus(status))
	}
	for _, state := range m.report.Usage {
		if state.SharedStoreDegraded {
			lines = append(lines, warnStyle.Render(fmt.Sprintf("%s: shared usage store degraded, counts are local", state.Provider)))
		}
	}

	lines = append(lines, "")
	if m.filtering || strings.TrimSpace(m.filter.Value()) != "" {
		lines = append(lines, m.filter.View())
	}
	if m.lastErr != nil {
		lines = append(lines, errStyle.Render("refresh failed: "+m.lastErr.Error()))
	}

	footer := "r refresh  / filter  q quit"
	if m.loading {
		footer = m.spinner.View() + " refreshing  " + footer
	} else if !m.updatedAt.IsZero() {
		footer = "updated " + m.updatedAt.Format("15:04:05") + "  " + footer
	}
	lines = append(lines, mutedStyle.Render(footer))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m QuotaModel) visibleStatuses() []domain.QuotaStatus {
	needle := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	if needle == "" {
		return m.report.Statuses
	}
	out := make([]domain.QuotaStatus, 0, len(m.report.Statuses))
	for _, status := range m.report.Statuses {
		if strings.Contains(strings.ToLower(status.Provider), needle) {
			out = append(out, status)
		}
	}
	return out
}

func renderStatus(status domain.QuotaStatus) string {
	style := okStyle
	switch {
	case status.Remaining <= 0:
		style = errStyle
	case status.Limit > 0 && status.Remaining*5 < status.Limit:
		style = warnStyle
	}
	label := fmt.Sprintf("%-20s %-16s", status.Provider, status.Resource)
	counts := fmt.Sprintf("%d/%d used, %d left, resets %s",
		status.Used, status.Limit, status.Remaining, status.ResetAt.Local().Format("15:04"))
	return label + " " + style.Render(usageBar(status.Used, status.Limit)) + " " + counts
}

func usageBar(used, limit int64) string {
	if limit <= 0 {
		return strings.Repeat("░", barWidth)
	}
	filled := int(used * barWidth / limit)
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func (m QuotaModel) fetchCmd() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		report, err := fetch(ctx)
		return reportMsg{report: report, err: err, at: time.Now()}
	}
}

func (m QuotaModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
