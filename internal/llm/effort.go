package llm

import (
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

var effortOrder = []domain.ReasoningEffort{
	domain.EffortNone,
	domain.EffortMinimal,
	domain.EffortLow,
	domain.EffortMedium,
	domain.EffortHigh,
}

// supportedEfforts lists the reasoning levels a model family accepts. A nil
// result means the model does not take a reasoning parameter at all.
func supportedEfforts(model string) []domain.ReasoningEffort {
	name := strings.ToLower(model)
	switch {
	case strings.HasPrefix(name, "gpt-5.1"), strings.HasPrefix(name, "gpt-5.2"):
		return []domain.ReasoningEffort{domain.EffortNone, domain.EffortLow, domain.EffortMedium, domain.EffortHigh}
	case strings.HasPrefix(name, "gpt-5"):
		return []domain.ReasoningEffort{domain.EffortMinimal, domain.EffortLow, domain.EffortMedium, domain.EffortHigh}
	case strings.HasPrefix(name, "o1"), strings.HasPrefix(name, "o3"), strings.HasPrefix(name, "o4"):
		return []domain.ReasoningEffort{domain.EffortLow, domain.EffortMedium, domain.EffortHigh}
	default:
		return nil
	}
}

func isReasoningModel(model string) bool {
	return supportedEfforts(model) != nil
}

// mapEffort downgrades an unsupported level to the nearest supported one;
// ties go to the higher level. Empty means "leave the parameter out".
func mapEffort(model string, requested domain.ReasoningEffort) domain.ReasoningEffort {
	if requested == "" {
		return ""
	}
	supported := supportedEfforts(model)
	if len(supported) == 0 {
		return ""
	}
	want := effortRank(requested)
	if want < 0 {
		return ""
	}
	best := supported[0]
	bestDistance := len(effortOrder)
	for _, candidate := range supported {
		distance := effortRank(candidate) - want
		if distance < 0 {
			distance = -distance
		}
		if distance < bestDistance || (distance == bestDistance && effortRank(candidate) > effortRank(best)) {
			best = candidate
			bestDistance = distance
		}
	}
	return best
}

func effortRank(effort domain.ReasoningEffort) int {
	for index, candidate := range effortOrder {
		if candidate == effort {
			return index
		}
	}
	return -1
}

// anthropicThinkingBudget maps effort to an extended-thinking token budget;
// zero disables thinking.
func anthropicThinkingBudget(effort domain.ReasoningEffort) int {
	switch effort {
	case domain.EffortLow, domain.EffortMinimal:
		return 1024
	case domain.EffortMedium:
		return 4096
	case domain.EffortHigh:
		return 16384
	default:
		return 0
	}
}

func anthropicSupportsThinking(model string) bool {
	name := strings.ToLower(model)
	for _, prefix := range []string{"claude-opus-4", "claude-sonnet-4", "claude-3-7-sonnet", "claude-haiku-4"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
