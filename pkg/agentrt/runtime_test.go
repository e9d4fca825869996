package agentrt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fern-run/fern/pkg/coordinator"
	"github.com/fern-run/fern/pkg/llmbackend"
	"github.com/fern-run/fern/pkg/threadsession"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	sessionID    string
	shareErr     error
	assistant    string
	onSubscribe  func(sessionID string, onEvent func(llmbackend.Event))
	promptCalled bool
	// closeStream, when true, invokes the onClose hook passed to
	// SubscribeEvents as soon as the subscription is established, simulating
	// a backend that hangs up without ever signaling session.idle.
	closeStream bool
}

func (f *fakeBackend) Ensure(ctx context.Context) error { return nil }
func (f *fakeBackend) Reset(ctx context.Context) error  { return nil }

func (f *fakeBackend) CreateSession(ctx context.Context, title string) (*llmbackend.Session, error) {
	return &llmbackend.Session{ID: f.sessionID, Title: title}, nil
}

func (f *fakeBackend) ShareSession(ctx context.Context, sessionID string) (string, error) {
	if f.shareErr != nil {
		return "", f.shareErr
	}
	return "https://share/" + sessionID, nil
}

func (f *fakeBackend) ListTools(ctx context.Context) ([]llmbackend.Tool, error) {
	return []llmbackend.Tool{{Name: "read", Description: "read a file"}}, nil
}

func (f *fakeBackend) SubscribeEvents(ctx context.Context, sessionID string, onEvent func(llmbackend.Event), onClose func()) (*llmbackend.Subscription, error) {
	if f.onSubscribe != nil {
		go f.onSubscribe(sessionID, onEvent)
	}
	if f.closeStream && onClose != nil {
		go onClose()
	}
	return llmbackend.NewNoopSubscription(), nil
}

func (f *fakeBackend) Prompt(ctx context.Context, sessionID string, parts []llmbackend.MessagePart, opts llmbackend.PromptOptions) error {
	f.promptCalled = true
	return nil
}

func (f *fakeBackend) LastAssistantText(ctx context.Context, sessionID string) (string, error) {
	return f.assistant, nil
}

func newTestRuntime(backend BackendClient) *Runtime {
	rt := New(backend, threadsession.New(time.Hour), coordinator.New(), nil, nil)
	rt.turnTimeout = time.Second
	return rt
}

func TestRunTurnHappyPath(t *testing.T) {
	backend := &fakeBackend{sessionID: "sess-1", assistant: "hello there"}
	backend.onSubscribe = func(sessionID string, onEvent func(llmbackend.Event)) {
		time.Sleep(5 * time.Millisecond)
		onEvent(llmbackend.Event{Type: llmbackend.EventToolComplete, SessionID: sessionID, Tool: "read", Message: "ok"})
		onEvent(llmbackend.Event{Type: llmbackend.EventSessionIdle, SessionID: sessionID})
	}
	rt := newTestRuntime(backend)

	out := rt.RunTurn(context.Background(), RunInput{ThreadID: "thread-1", Message: "hi", Channel: "whatsapp"})
	require.Equal(t, "hello there", out.Response)
	require.Len(t, out.ToolCalls, 1)
	require.Equal(t, "read", out.ToolCalls[0].Tool)
}

func TestRunTurnCrossTalkEventsAreDropped(t *testing.T) {
	backend := &fakeBackend{sessionID: "sess-1", assistant: "final"}
	backend.onSubscribe = func(sessionID string, onEvent func(llmbackend.Event)) {
		onEvent(llmbackend.Event{Type: llmbackend.EventSessionIdle, SessionID: "sess-other"})
		time.Sleep(5 * time.Millisecond)
		onEvent(llmbackend.Event{Type: llmbackend.EventSessionIdle, SessionID: sessionID})
	}
	rt := newTestRuntime(backend)

	out := rt.RunTurn(context.Background(), RunInput{ThreadID: "thread-1", Message: "hi"})
	require.Equal(t, "final", out.Response)
}

func TestRunTurnStreamEndedWithoutIdle(t *testing.T) {
	backend := &fakeBackend{sessionID: "sess-1", closeStream: true}
	rt := newTestRuntime(backend)
	rt.turnTimeout = time.Second

	out := rt.RunTurn(context.Background(), RunInput{ThreadID: "thread-1", Message: "hi"})
	require.Contains(t, out.Response, "Session ended unexpectedly")
}

func TestRunTurnTimesOut(t *testing.T) {
	backend := &fakeBackend{sessionID: "sess-1"}
	rt := newTestRuntime(backend)
	rt.turnTimeout = 20 * time.Millisecond

	out := rt.RunTurn(context.Background(), RunInput{ThreadID: "thread-1", Message: "hi"})
	require.Contains(t, out.Response, "timed out")
}

func TestRunTurnShareFailureIsReportedAndRestartsBackend(t *testing.T) {
	backend := &fakeBackend{sessionID: "sess-1", shareErr: errors.New("share unavailable")}
	rt := newTestRuntime(backend)

	out := rt.RunTurn(context.Background(), RunInput{ThreadID: "thread-1", Message: "hi"})
	require.Contains(t, out.Response, "I encountered an error")
}

type panickingBackend struct{ fakeBackend }

func (p *panickingBackend) ListTools(ctx context.Context) ([]llmbackend.Tool, error) {
	panic("boom")
}

func TestFilterToolsRestrictsByAllowList(t *testing.T) {
	tools := []llmbackend.Tool{
		{Name: "read", Description: "read a file"},
		{Name: "bash", Description: "run a shell command"},
		{Name: "webfetch", Description: "fetch a URL"},
	}
	filtered := filterTools(tools, []string{"read", "bash"})
	require.Len(t, filtered, 2)
	require.Equal(t, "read", filtered[0].Name)
	require.Equal(t, "bash", filtered[1].Name)
}

func TestFilterToolsEmptyAllowListIsNoop(t *testing.T) {
	tools := []llmbackend.Tool{{Name: "read"}}
	require.Equal(t, tools, filterTools(tools, nil))
}

func TestRunTurnNeverPanics(t *testing.T) {
	backend := &panickingBackend{fakeBackend: fakeBackend{sessionID: "sess-1"}}
	rt := newTestRuntime(backend)
	rt.turnTimeout = 20 * time.Millisecond

	require.NotPanics(t, func() {
		rt.RunTurn(context.Background(), RunInput{ThreadID: "thread-1", Message: "hi"})
	})
}
