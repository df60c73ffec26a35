// Package masking strips credentials from text before it reaches logs or
// wire responses. Provider errors routinely echo the request URL or headers,
// which can carry API keys.
package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns are the credential shapes the gateway handles. Invalid
// entries are logged and skipped at init, never fatal.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
	description string
}{
	{
		name:        "bearer_token",
		pattern:     `(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`,
		replacement: "Bearer ***MASKED***",
		description: "Authorization bearer tokens",
	},
	{
		name:        "api_key_param",
		pattern:     `(?i)([?&]key=)[A-Za-z0-9\-_]+`,
		replacement: "${1}***MASKED***",
		description: "API keys passed as URL query parameters",
	},
	{
		name:        "openai_key",
		pattern:     `sk-[A-Za-z0-9\-_]{16,}`,
		replacement: "***MASKED***",
		description: "OpenAI-style secret keys",
	},
	{
		name:        "credentialed_url",
		pattern:     `(https?://)[^/\s:@]+:[^/\s:@]+@`,
		replacement: "${1}***MASKED***@",
		description: "URLs embedding user:password credentials",
	},
	{
		name:        "api_key_header",
		pattern:     `(?i)(x-api-key["':\s]+)[A-Za-z0-9\-._~+/]{8,}`,
		replacement: "${1}***MASKED***",
		description: "API keys in header dumps",
	},
}

// Masker applies the compiled pattern set.
type Masker struct {
	patterns []*CompiledPattern
}

// New compiles the builtin patterns. Patterns that fail to compile are
// logged and skipped.
func New() *Masker {
	m := &Masker{}
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		m.patterns = append(m.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
			Description: p.description,
		})
	}
	return m
}

// Mask replaces every credential occurrence in s.
func (m *Masker) Mask(s string) string {
	for _, p := range m.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// MaskError masks an error's message; nil stays nil as the empty string.
func (m *Masker) MaskError(err error) string {
	if err == nil {
		return ""
	}
	return m.Mask(err.Error())
}
