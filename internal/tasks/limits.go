package tasks

import (
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/config"
	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	defaultMaxInputChars      = 12000
	defaultTriageTitleChars   = 240
	defaultTriageBodyChars    = 4000
	defaultSnippetChars       = 600
	defaultBatchMaxItems      = 50
	defaultTriageBatchBodyCap = 1200
)

// Limits caps free text sent to the model.
type Limits struct {
	MaxInputChars  int
	TitleChars     int
	BodyChars      int
	SnippetChars   int
	BatchMaxItems  int
	BatchBodyChars int
}

func LoadLimits(src config.Source) Limits {
	return Limits{
		MaxInputChars:  src.PositiveInt("LLM_MAX_INPUT_CHARS", defaultMaxInputChars),
		TitleChars:     src.PositiveInt("LLM_TRIAGE_MAX_TITLE_CHARS", defaultTriageTitleChars),
		BodyChars:      src.PositiveInt("LLM_TRIAGE_MAX_BODY_CHARS", defaultTriageBodyChars),
		SnippetChars:   src.PositiveInt("LLM_MAX_SNIPPET_CHARS", defaultSnippetChars),
		BatchMaxItems:  src.PositiveInt("LLM_TRIAGE_BATCH_MAX_ITEMS", defaultBatchMaxItems),
		BatchBodyChars: src.PositiveInt("LLM_TRIAGE_BATCH_MAX_BODY_CHARS", defaultTriageBatchBodyCap),
	}
}

// clamp trims s and cuts it to limit runes.
func clamp(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

// Rates resolves per-1000-token credit rates: task scope first, then
// provider scope, then zero.
type Rates struct {
	source config.Source
}

func NewRates(src config.Source) Rates {
	return Rates{source: src}
}

func (r Rates) Estimate(task domain.TaskType, provider string, inputTokens, outputTokens int64) float64 {
	inRate := r.rate(task, provider, "INPUT")
	outRate := r.rate(task, provider, "OUTPUT")
	return float64(inputTokens)/1000*inRate + float64(outputTokens)/1000*outRate
}

func (r Rates) rate(task domain.TaskType, provider, direction string) float64 {
	providerKey := strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
	for _, key := range []string{
		"LLM_" + task.EnvKey() + "_" + direction + "_CREDITS_PER_1K",
		"LLM_" + providerKey + "_" + direction + "_CREDITS_PER_1K",
	} {
		if value := r.source.Float(key, -1); value >= 0 {
			return value
		}
	}
	return 0
}
