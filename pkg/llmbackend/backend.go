package llmbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/fern-run/fern/pkg/apierr"
)

const (
	portRangeStart   = 4096
	portRangeEnd     = 4300
	portScanAttempts = 100

	shareRetries = 10
	shareBackoff = time.Second

	toolsRetries    = 10
	toolsRetryDelay = 300 * time.Millisecond
	restartDelay    = 2 * time.Second

	completionPollAttempts = 60
	completionPollInterval = 500 * time.Millisecond
)

// Config controls how the backend subprocess is launched.
type Config struct {
	// BinaryPath is the backend executable to launch. Defaults to "opencode"
	// on PATH when empty.
	BinaryPath string
	// StoragePath holds the backend's session storage; cleaned on first use.
	StoragePath string
}

// Backend is a singleton, process-owned handle to the LLM backend
// subprocess. This replaces the source's module-level
// global with an explicit object owned by the runtime root.
type Backend struct {
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	baseURL string
	port    int
	started bool

	httpClient *http.Client
}

// New creates an unstarted Backend. Call Ensure before use.
func New(cfg Config) *Backend {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "opencode"
	}
	return &Backend{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Ensure starts the backend subprocess if it is not already running.
func (b *Backend) Ensure(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	return b.startLocked(ctx)
}

// Reset tears down the subprocess and starts a fresh one after a short delay,
// share failure or a stream that ends without session.idle means
// the backend is unhealthy and must be restarted wholesale.
func (b *Backend) Reset(ctx context.Context) error {
	b.mu.Lock()
	b.stopLocked()
	b.mu.Unlock()

	select {
	case <-time.After(restartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startLocked(ctx)
}

// Close stops the backend subprocess. Called on SIGTERM.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

func (b *Backend) startLocked(ctx context.Context) error {
	if b.cfg.StoragePath != "" {
		if err := os.RemoveAll(b.cfg.StoragePath); err != nil {
			slog.Warn("Failed to clean stale backend storage", "path", b.cfg.StoragePath, "error", err)
		}
		if err := os.MkdirAll(b.cfg.StoragePath, 0o755); err != nil {
			return apierr.Wrap(apierr.KindFatal, "creating backend storage directory", err)
		}
	}

	port, err := scanFreePort()
	if err != nil {
		return apierr.Wrap(apierr.KindBackendUnhealthy, "no free port for backend", err)
	}

	args := []string{"serve", "--port", fmt.Sprintf("%d", port)}
	if b.cfg.StoragePath != "" {
		args = append(args, "--storage", b.cfg.StoragePath)
	}
	cmd := exec.CommandContext(ctx, b.cfg.BinaryPath, args...)
	cmd.Stdout = slogWriter{level: slog.LevelDebug}
	cmd.Stderr = slogWriter{level: slog.LevelWarn}
	if err := cmd.Start(); err != nil {
		return apierr.Wrap(apierr.KindBackendUnhealthy, "starting backend subprocess", err)
	}

	b.cmd = cmd
	b.port = port
	b.baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	if err := b.waitForToolsReady(ctx); err != nil {
		b.stopLocked()
		return err
	}

	b.started = true
	slog.Info("LLM backend started", "port", port)
	return nil
}

func (b *Backend) stopLocked() {
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
		_ = b.cmd.Wait()
	}
	b.cmd = nil
	b.started = false
	b.baseURL = ""
}

// scanFreePort picks a free TCP port in [portRangeStart, portRangeEnd],
// trying at most portScanAttempts candidates.
func scanFreePort() (int, error) {
	for i := 0; i < portScanAttempts; i++ {
		port := portRangeStart + i
		if port > portRangeEnd {
			break
		}
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port found in range %d-%d", portRangeStart, portRangeEnd)
}

// waitForToolsReady polls ListTools until it succeeds, tolerating the
// backend's asynchronous tool registration.
func (b *Backend) waitForToolsReady(ctx context.Context) error {
	var lastErr error
	for i := 0; i < toolsRetries; i++ {
		if _, err := b.doListTools(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-time.After(toolsRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return apierr.Wrap(apierr.KindBackendUnhealthy, "backend tools never became ready", lastErr)
}

func (b *Backend) baseURLSnapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseURL
}

// CreateSession asks the backend for a fresh session with the given title.
func (b *Backend) CreateSession(ctx context.Context, title string) (*Session, error) {
	var sess Session
	if err := b.postJSON(ctx, "/sessions", map[string]any{"title": title}, &sess); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendUnhealthy, "creating backend session", err)
	}
	return &sess, nil
}

// ShareSession requests a hosted share URL for sessionID, retrying up to
// shareRetries times: failure to share is treated as a readiness signal that
// the backend is unhealthy.
func (b *Backend) ShareSession(ctx context.Context, sessionID string) (string, error) {
	var lastErr error
	for i := 0; i < shareRetries; i++ {
		var resp struct {
			ShareURL string `json:"shareUrl"`
		}
		err := b.postJSON(ctx, fmt.Sprintf("/sessions/%s/share", sessionID), nil, &resp)
		if err == nil {
			return resp.ShareURL, nil
		}
		lastErr = err
		select {
		case <-time.After(shareBackoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", apierr.Wrap(apierr.KindBackendUnhealthy, "sharing backend session failed", lastErr)
}

// Prompt submits message parts for sessionID with the given system prompt
// and agent override.
func (b *Backend) Prompt(ctx context.Context, sessionID string, parts []MessagePart, opts PromptOptions) error {
	body := map[string]any{
		"parts":     parts,
		"system":    opts.System,
		"agent":     opts.Agent,
		"maxTokens": opts.MaxTokens,
	}
	return b.postJSON(ctx, fmt.Sprintf("/sessions/%s/prompt", sessionID), body, nil)
}

// Complete runs a no-tools, single-turn completion: create an ephemeral
// session, submit the prompt, and poll the transcript for the assistant's
// reply. Background jobs like memory summarization use this instead of
// RunTurn's full subscribeEvents/tool-loop machinery, since they have no
// tools to drive and no caller blocked on progress events.
func (b *Backend) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	sess, err := b.CreateSession(ctx, "background-completion")
	if err != nil {
		return "", err
	}
	defer func() { _ = b.DeleteSession(context.Background(), sess.ID) }()

	opts := PromptOptions{System: systemPrompt, MaxTokens: maxTokens}
	if err := b.Prompt(ctx, sess.ID, []MessagePart{{Type: "text", Text: userPrompt}}, opts); err != nil {
		return "", err
	}

	for i := 0; i < completionPollAttempts; i++ {
		text, err := b.LastAssistantText(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		if text != "" {
			return text, nil
		}
		select {
		case <-time.After(completionPollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", apierr.Wrap(apierr.KindBackendUnhealthy, "completion never produced a reply", nil)
}

// Embed returns a fixed-dimension embedding vector for text.
func (b *Backend) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp struct {
		Vector []float32 `json:"vector"`
	}
	if err := b.postJSON(ctx, "/embed", map[string]any{"text": text}, &resp); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendUnhealthy, "embedding text", err)
	}
	return resp.Vector, nil
}

// SessionMessages returns the full transcript for sessionID.
func (b *Backend) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := b.getJSON(ctx, fmt.Sprintf("/sessions/%s/messages", sessionID), &msgs); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendUnhealthy, "fetching session messages", err)
	}
	return msgs, nil
}

// LastAssistantText returns the content of the last assistant message in the
// session, or "" if none exists yet.
func (b *Backend) LastAssistantText(ctx context.Context, sessionID string) (string, error) {
	msgs, err := b.SessionMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			return msgs[i].Content, nil
		}
	}
	return "", nil
}

// DeleteSession removes a session from the backend.
func (b *Backend) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.baseURLSnapshot()+"/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindBackendUnhealthy, "deleting backend session", err)
	}
	defer resp.Body.Close()
	return nil
}

// ListTools returns the tools the backend has discovered.
func (b *Backend) ListTools(ctx context.Context) ([]Tool, error) {
	return b.doListTools(ctx)
}

func (b *Backend) doListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	if err := b.getJSON(ctx, "/tools", &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func (b *Backend) postJSON(ctx context.Context, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURLSnapshot()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

func (b *Backend) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURLSnapshot()+path, nil)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

func (b *Backend) do(req *http.Request, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned status %d for %s", resp.StatusCode, req.URL.Path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// slogWriter adapts the subprocess's stdout/stderr streams to structured logging.
type slogWriter struct {
	level slog.Level
}

func (w slogWriter) Write(p []byte) (int, error) {
	slog.Log(context.Background(), w.level, "backend output", "line", string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
