package redact

import (
	"regexp"
	"strings"
)

type Redactor struct {
	rules []redactionRule
}

type redactionRule struct {
	re    *regexp.Regexp
	label string
}

var defaultRedactor = New()

func New(custom ...string) *Redactor {
	rules := []redactionRule{
		{re: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), label: "Bearer [REDACTED]"},
		{re: regexp.MustCompile(`sk-(?:ant-|proj-)?[A-Za-z0-9_\-]{16,}`), label: "[REDACTED_API_KEY]"},
		{re: regexp.MustCompile(`(?i)("?(?:x-api-key|api[_-]?key|authorization|access_token|refresh_token)"?\s*[:=]\s*)"?[^\s",}]+"?`), label: "$1[REDACTED]"},
	}
	for _, pattern := range custom {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		rules = append(rules, redactionRule{re: re, label: "[REDACTED_CUSTOM]"})
	}
	return &Redactor{rules: rules}
}

func (r *Redactor) Apply(input string) string {
	if r == nil || input == "" {
		return input
	}
	out := input
	for _, rule := range r.rules {
		out = rule.re.ReplaceAllString(out, rule.label)
	}
	return out
}

// String scrubs input with the default rules.
func String(input string) string {
	return defaultRedactor.Apply(input)
}
