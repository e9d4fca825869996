// Package masking strips secret-shaped substrings out of text before it
// leaves the process boundary — in Fern's case, before a memory chunk's raw
// messages and summary are persisted or sent to the LLM backend for
// embedding.
package masking

import "log/slog"

// Service applies the compiled pattern set to text. Created once at startup
// and safe for concurrent use; it carries no mutable state after construction.
type Service struct {
	patterns []*CompiledPattern
}

// NewService compiles the builtin pattern set.
func NewService() *Service {
	patterns := compileBuiltins()
	slog.Info("Masking service initialized", "patterns", len(patterns))
	return &Service{patterns: patterns}
}

// Mask applies every compiled pattern to content in order and returns the
// result. Masking is fail-open by construction: a pattern that cannot match
// anything just leaves the text unchanged, so there is no error path here.
func (s *Service) Mask(content string) string {
	if content == "" {
		return content
	}
	masked := content
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
