// Package llmbackend wraps the opaque LLM backend: a local HTTP+SSE
// subprocess that owns sessions, prompting, and tool discovery. Everything
// about the model provider itself is out of scope; this package only
// speaks the backend's session/event wire protocol.
package llmbackend

import "time"

// EventType enumerates the neutral event kinds the agent session coordinator
// consumes from the backend's event stream.
type EventType string

const (
	EventToolStart     EventType = "tool_start"
	EventToolComplete  EventType = "tool_complete"
	EventToolError     EventType = "tool_error"
	EventText          EventType = "text"
	EventThinking      EventType = "thinking"
	EventSessionStatus EventType = "session_status"
	EventSessionIdle   EventType = "session_idle"
	EventSessionError  EventType = "session_error"
)

// Event is one item from a session's event stream.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Tool      string    `json:"tool,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Tool is a tool descriptor returned by ListTools.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MessagePart is one piece of a prompt submission: text or an image file.
type MessagePart struct {
	Type     string `json:"type"` // "text" | "file"
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// PromptOptions carries the per-turn overrides for a prompt submission.
type PromptOptions struct {
	System string
	Agent  string
	// MaxTokens caps the reply length. Zero means the backend's default.
	MaxTokens int
}

// Message is one entry in a session's transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the backend's session descriptor.
type Session struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ShareURL string `json:"shareUrl"`
}
