// Package agentrt implements the agent session coordinator: routing an
// inbound turn to a backend session, streaming its progress, and returning
// a response that is never an unhandled error.
package agentrt

import (
	"context"

	"github.com/fern-run/fern/pkg/llmbackend"
)

// Attachment is a file attached to an inbound message. Only image MIME
// types survive into the backend prompt; everything else is dropped.
type Attachment struct {
	MimeType string
	Filename string
	Data     []byte
}

// RunInput is the public contract's input to runTurn.
type RunInput struct {
	ThreadID      string
	Message       string
	Channel       string
	ChannelUserID string
	Attachments   []Attachment
	AgentType     string

	// AllowedTools, when non-empty, restricts the tool list surfaced in the
	// system prompt to this set (used by sandboxed callers like subagents).
	AllowedTools []string
	// ExtraInstructions, when non-empty, is appended to the system prompt
	// after the channel section.
	ExtraInstructions string
}

// ToolCall is one tool invocation observed during a turn.
type ToolCall struct {
	Tool   string
	Input  map[string]any
	Output string
}

// RunOutput is the public contract's output from runTurn. Response is a
// human-readable string even on failure; runTurn never returns an error.
type RunOutput struct {
	ThreadID  string
	Response  string
	ToolCalls []ToolCall
}

// ProgressEvent is the neutral stream surfaced to progress subscribers
// (e.g. the websocket broadcaster in pkg/events).
type ProgressEvent struct {
	Type     string
	ThreadID string
	Tool     string
	Message  string
}

// BackendClient is the subset of the LLM backend adapter the runtime needs.
// Accepting an interface here (rather than *llmbackend.Backend directly)
// keeps the runtime testable without a real subprocess.
type BackendClient interface {
	Ensure(ctx context.Context) error
	Reset(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (*llmbackend.Session, error)
	ShareSession(ctx context.Context, sessionID string) (string, error)
	ListTools(ctx context.Context) ([]llmbackend.Tool, error)
	// SubscribeEvents opens the event stream for sessionID. onClose fires once
	// the stream's read loop exits for any reason, so the caller can detect a
	// session that dropped off without ever signaling session.idle or
	// session.error.
	SubscribeEvents(ctx context.Context, sessionID string, onEvent func(llmbackend.Event), onClose func()) (*llmbackend.Subscription, error)
	Prompt(ctx context.Context, sessionID string, parts []llmbackend.MessagePart, opts llmbackend.PromptOptions) error
	LastAssistantText(ctx context.Context, sessionID string) (string, error)
}

// MemoryNotifier is the fire-and-forget hook invoked after a turn completes.
// Implemented by pkg/memory's archivist.
type MemoryNotifier interface {
	OnTurnComplete(threadID, backendSessionID string)
}

// ProgressPublisher receives translated progress events for a thread.
// Implemented by pkg/events' broadcaster; nil is a valid no-op.
type ProgressPublisher interface {
	Publish(threadID string, ev ProgressEvent)
}
