package agentrt

import (
	"fmt"
	"strings"

	"github.com/fern-run/fern/pkg/llmbackend"
)

const basePrompt = `You are Fern, a conversational AI assistant backed by a dedicated agent runtime. You have access to the tools listed below; use them whenever they let you answer more precisely than guessing.`

// buildSystemPrompt substitutes a tool list and a channel-specific section
// into the base template.
func buildSystemPrompt(tools []llmbackend.Tool, channel, channelUserID, threadID string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	b.WriteString(toolSection(tools))
	b.WriteString("\n\n")
	b.WriteString(channelSection(channel, channelUserID, threadID))
	return b.String()
}

func toolSection(tools []llmbackend.Tool) string {
	if len(tools) == 0 {
		return "Available tools: none."
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func channelSection(channel, channelUserID, threadID string) string {
	switch channel {
	case "subagent":
		return "You are running as a read-only subagent. Do not attempt side-effecting operations beyond your granted tools."
	case "scheduler":
		return "This turn was triggered by a scheduled job, not a live user message. If the job metadata names a delivery channel, use the send_message tool to deliver your output there."
	case "":
		return fmt.Sprintf("Thread: %s.", threadID)
	default:
		return fmt.Sprintf("Replying on channel %q to user %q (thread %s).", channel, channelUserID, threadID)
	}
}
