package agentrt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fern-run/fern/pkg/coordinator"
	"github.com/fern-run/fern/pkg/llmbackend"
	"github.com/fern-run/fern/pkg/threadsession"
)

// errStreamEnded signals that the backend's event stream closed without ever
// emitting session.idle or session.error for the awaited session.
var errStreamEnded = errors.New("stream ended")

// DefaultTurnTimeout bounds how long runTurn waits for session.idle before
// giving up.
const DefaultTurnTimeout = 10 * time.Minute

const defaultAgentType = "fern"

// Runtime is the agent session coordinator. It owns no durable state: the
// thread→session mapping and completion signaling are both process-local,
// per the runtime's shared-resource policy.
type Runtime struct {
	backend     BackendClient
	sessions    *threadsession.Registry
	coordinator *coordinator.Coordinator
	memory      MemoryNotifier
	progress    ProgressPublisher
	turnTimeout time.Duration
}

// New creates a Runtime wired to its collaborators. memory and progress may
// be nil.
func New(backend BackendClient, sessions *threadsession.Registry, coord *coordinator.Coordinator, memory MemoryNotifier, progress ProgressPublisher) *Runtime {
	return &Runtime{
		backend:     backend,
		sessions:    sessions,
		coordinator: coord,
		memory:      memory,
		progress:    progress,
		turnTimeout: DefaultTurnTimeout,
	}
}

// RunTurn implements the public contract: resolve session, list tools, build
// the system prompt, subscribe to events before prompting, submit the
// prompt, wait for completion, and return a response. It never panics or
// returns an error — every failure path is converted to a human-readable
// response string.
func (r *Runtime) RunTurn(ctx context.Context, in RunInput) RunOutput {
	out := RunOutput{ThreadID: in.ThreadID}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Recovered panic in RunTurn", "thread_id", in.ThreadID, "panic", rec)
			out.Response = fmt.Sprintf("I encountered an error: %v", rec)
		}
	}()

	if err := r.backend.Ensure(ctx); err != nil {
		out.Response = fmt.Sprintf("I encountered an error: %v", err)
		return out
	}

	sessionID, err := r.getOrCreateSession(ctx, in)
	if err != nil {
		out.Response = fmt.Sprintf("I encountered an error: %v", err)
		go r.restartBackend()
		return out
	}

	tools, err := r.backend.ListTools(ctx)
	if err != nil {
		out.Response = fmt.Sprintf("I encountered an error: %v", err)
		return out
	}
	tools = filterTools(tools, in.AllowedTools)

	systemPrompt := buildSystemPrompt(tools, in.Channel, in.ChannelUserID, in.ThreadID)
	if in.ExtraInstructions != "" {
		systemPrompt += "\n\n" + in.ExtraInstructions
	}

	var toolCalls []ToolCall
	var idleOrErrored atomic.Bool
	r.coordinator.Register(sessionID)

	sub, err := r.backend.SubscribeEvents(ctx, sessionID, func(ev llmbackend.Event) {
		if ev.SessionID == sessionID && (ev.Type == llmbackend.EventSessionIdle || ev.Type == llmbackend.EventSessionError) {
			idleOrErrored.Store(true)
		}
		r.handleEvent(in.ThreadID, sessionID, ev, &toolCalls)
	}, func() {
		if idleOrErrored.CompareAndSwap(false, true) {
			r.coordinator.SignalError(sessionID, errStreamEnded)
		}
	})
	if err != nil {
		out.Response = fmt.Sprintf("I encountered an error: %v", err)
		return out
	}
	defer sub.Unsubscribe()

	parts := buildParts(in.Message, in.Attachments)
	agentType := in.AgentType
	if agentType == "" {
		agentType = defaultAgentType
	}

	if err := r.backend.Prompt(ctx, sessionID, parts, llmbackend.PromptOptions{System: systemPrompt, Agent: agentType}); err != nil {
		out.Response = fmt.Sprintf("I encountered an error: %v", err)
		return out
	}

	_, waitErr := r.coordinator.WaitFor(ctx, sessionID, r.turnTimeout)
	switch {
	case waitErr == context.DeadlineExceeded:
		out.Response = "OpenCode prompt timed out waiting for a response."
	case waitErr != nil && isStreamEnded(waitErr):
		out.Response = "Session ended unexpectedly — may have run out of memory"
	case waitErr != nil:
		out.Response = fmt.Sprintf("I encountered an error: %v", waitErr)
	default:
		text, err := r.backend.LastAssistantText(ctx, sessionID)
		if err != nil {
			out.Response = fmt.Sprintf("I encountered an error: %v", err)
		} else {
			out.Response = text
		}
	}

	out.ToolCalls = toolCalls

	if r.memory != nil {
		go r.memory.OnTurnComplete(in.ThreadID, sessionID)
	}

	return out
}

func (r *Runtime) getOrCreateSession(ctx context.Context, in RunInput) (string, error) {
	if sessionID, ok := r.sessions.Get(in.ThreadID); ok {
		return sessionID, nil
	}

	title := deriveTitle(in.Channel, in.Message)
	sess, err := r.backend.CreateSession(ctx, title)
	if err != nil {
		return "", fmt.Errorf("creating backend session: %w", err)
	}

	if _, err := r.backend.ShareSession(ctx, sess.ID); err != nil {
		return "", fmt.Errorf("sharing backend session: %w", err)
	}

	r.sessions.Set(in.ThreadID, sess.ID)
	return sess.ID, nil
}

func (r *Runtime) restartBackend() {
	if err := r.backend.Reset(context.Background()); err != nil {
		slog.Error("Failed to restart unhealthy backend", "error", err)
	}
}

// handleEvent translates one backend event into the neutral progress stream
// and drives the completion coordinator. Events for a different session than
// the one being awaited are dropped (cross-talk protection).
func (r *Runtime) handleEvent(threadID, awaitedSessionID string, ev llmbackend.Event, toolCalls *[]ToolCall) {
	if ev.SessionID == "" || ev.SessionID != awaitedSessionID {
		return
	}

	if r.progress != nil {
		r.progress.Publish(threadID, ProgressEvent{
			Type:     string(ev.Type),
			ThreadID: threadID,
			Tool:     ev.Tool,
			Message:  ev.Message,
		})
	}

	switch ev.Type {
	case llmbackend.EventToolComplete:
		*toolCalls = append(*toolCalls, ToolCall{Tool: ev.Tool, Input: map[string]any{}, Output: ev.Message})
	case llmbackend.EventToolError:
		*toolCalls = append(*toolCalls, ToolCall{Tool: ev.Tool, Input: map[string]any{}, Output: "error: " + ev.Message})
	case llmbackend.EventSessionIdle:
		r.coordinator.Signal(awaitedSessionID, nil)
	case llmbackend.EventSessionError:
		r.coordinator.SignalError(awaitedSessionID, fmt.Errorf("%s", ev.Message))
	}
}

func deriveTitle(channel, message string) string {
	msg := strings.TrimSpace(message)
	if len(msg) > 30 {
		msg = msg[:30]
	}
	return channel + ": " + msg
}

// filterTools restricts tools to the given allow-list by name. An empty
// allow-list is a no-op (the full discovered tool set is kept).
func filterTools(tools []llmbackend.Tool, allow []string) []llmbackend.Tool {
	if len(allow) == 0 {
		return tools
	}
	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[name] = true
	}
	filtered := make([]llmbackend.Tool, 0, len(tools))
	for _, t := range tools {
		if allowed[t.Name] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func isStreamEnded(err error) bool {
	return errors.Is(err, errStreamEnded) || strings.Contains(err.Error(), "EOF")
}

func buildParts(message string, attachments []Attachment) []llmbackend.MessagePart {
	parts := make([]llmbackend.MessagePart, 0, len(attachments)+1)
	if message != "" {
		parts = append(parts, llmbackend.MessagePart{Type: "text", Text: message})
	}
	for _, a := range attachments {
		if !strings.HasPrefix(a.MimeType, "image/") {
			continue
		}
		parts = append(parts, llmbackend.MessagePart{
			Type:     "file",
			MimeType: a.MimeType,
			Filename: a.Filename,
			Data:     a.Data,
		})
	}
	return parts
}
