package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/fern-run/fern/pkg/agentrt"
	"github.com/fern-run/fern/pkg/channel"
)

type fakeRuntime struct {
	mu    sync.Mutex
	calls []agentrt.RunInput
}

func (f *fakeRuntime) RunTurn(ctx context.Context, in agentrt.RunInput) agentrt.RunOutput {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	return agentrt.RunOutput{ThreadID: in.ThreadID, Response: "pong"}
}

func (f *fakeRuntime) snapshot() []agentrt.RunInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agentrt.RunInput, len(f.calls))
	copy(out, f.calls)
	return out
}

type recordingAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *recordingAdapter) Capabilities() channel.Capabilities {
	return channel.Capabilities{Markdown: true, MaxMessageLength: 4000}
}

func (a *recordingAdapter) Send(ctx context.Context, to, content string) error {
	a.mu.Lock()
	a.sent = append(a.sent, to+":"+content)
	a.mu.Unlock()
	return nil
}

func newRouter(t *testing.T, h *Handler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/webhook/:channel", h.Handle)
	return engine
}

func TestHandleUnknownChannelReturns404(t *testing.T) {
	rt := &fakeRuntime{}
	h := NewHandler(rt, channel.NewRegistry(), false)
	engine := newRouter(t, h)

	req := httptest.NewRequest(http.MethodPost, "/webhook/bogus", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAcksImmediatelyAndDispatchesInBackground(t *testing.T) {
	rt := &fakeRuntime{}
	registry := channel.NewRegistry()
	adapter := &recordingAdapter{}
	registry.Register("sms", adapter)

	h := NewHandler(rt, registry, false)
	h.RegisterChannel("sms", JSONParser{}, nil)
	engine := newRouter(t, h)

	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", bytes.NewBufferString(`{"from":"+15551234567","body":"ping"}`))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return len(rt.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	calls := rt.snapshot()
	require.Equal(t, "+15551234567", calls[0].ThreadID)
	require.Equal(t, "ping", calls[0].Message)
	require.Equal(t, "sms", calls[0].Channel)

	require.Eventually(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.sent) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandleRejectsBadSignatureInVerifyMode(t *testing.T) {
	rt := &fakeRuntime{}
	registry := channel.NewRegistry()
	h := NewHandler(rt, registry, true)
	h.RegisterChannel("sms", JSONParser{}, NewHMACVerifier("X-Signature", "shh"))
	engine := newRouter(t, h)

	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", bytes.NewBufferString(`{"from":"+1","body":"hi"}`))
	req.Header.Set("X-Signature", "wrong")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, rt.snapshot())
}

func TestHandleAcceptsValidSignatureInVerifyMode(t *testing.T) {
	rt := &fakeRuntime{}
	registry := channel.NewRegistry()
	h := NewHandler(rt, registry, true)
	h.RegisterChannel("sms", JSONParser{}, NewHMACVerifier("X-Signature", "shh"))
	engine := newRouter(t, h)

	payload := []byte(`{"from":"+1","body":"hi"}`)
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", bytes.NewBuffer(payload))
	req.Header.Set("X-Signature", sig)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return len(rt.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}
