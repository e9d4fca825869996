package memory

import (
	"fmt"
	"strings"

	"github.com/fern-run/fern/pkg/llmbackend"
	"github.com/fern-run/fern/pkg/masking"
)

// chunkMessages greedily slices messages into token-bounded chunks: a chunk
// closes once it reaches chunkTokenThreshold, and is force-closed before a
// message would push it past chunkTokenMax so a chunk never straddles the
// hard ceiling.
func chunkMessages(messages []llmbackend.Message, tc *tokenCounter) [][]llmbackend.Message {
	var chunks [][]llmbackend.Message
	var current []llmbackend.Message
	currentTokens := 0

	for _, msg := range messages {
		msgTokens := tc.count(msg.Content)
		if len(current) > 0 && currentTokens+msgTokens > chunkTokenMax {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}

		current = append(current, msg)
		currentTokens += msgTokens

		if currentTokens >= chunkTokenThreshold {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// formatTranscript renders a chunk of messages as plain text for the
// summarization prompt, masking each message's content first.
func formatTranscript(chunk []llmbackend.Message, masker *masking.Service) string {
	var b strings.Builder
	for _, msg := range chunk {
		fmt.Fprintf(&b, "%s: %s\n\n", msg.Role, masker.Mask(msg.Content))
	}
	return b.String()
}
