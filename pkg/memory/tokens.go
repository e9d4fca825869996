package memory

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter estimates token counts for archival chunk sizing. tiktoken-go
// gives an accurate count when its encoding loads; chunk-size bounds are
// advisory rather than a hard contract, so a failed load falls back to the
// chars/4 heuristic instead of blocking archival.
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("Failed to load tiktoken encoding, falling back to chars/4 token estimate", "error", err)
		return &tokenCounter{}
	}
	return &tokenCounter{enc: enc}
}

func (t *tokenCounter) count(text string) int {
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}
