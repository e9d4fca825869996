// Package webhook implements the generic inbound transport endpoint: accept
// a channel's native webhook body, ack it immediately to satisfy the
// transport's latency budget, and dispatch the turn in the background.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fern-run/fern/pkg/agentrt"
	"github.com/fern-run/fern/pkg/channel"
)

// Runtime is the subset of agentrt.Runtime the webhook handler needs.
type Runtime interface {
	RunTurn(ctx context.Context, in agentrt.RunInput) agentrt.RunOutput
}

// InboundParser normalizes one channel's native webhook body into a thread
// id and message text. Implementations are channel-specific (Slack event
// envelopes, Twilio form posts, a generic JSON body, ...).
type InboundParser interface {
	Parse(r *http.Request, body []byte) (threadID, channelUserID, message string, err error)
}

// Handler serves POST /webhook/:channel for every registered channel.
type Handler struct {
	runtime    Runtime
	channels   *channel.Registry
	parsers    map[string]InboundParser
	verifiers  map[string]SignatureVerifier
	verifyMode bool
}

// NewHandler creates a Handler. verifyMode should be true whenever a public
// base URL is configured (FERN_WEBHOOK_URL set) — with it false, signature
// verification is skipped entirely regardless of registered verifiers,
// matching deployments that sit behind a trusted internal network instead
// of a public endpoint.
func NewHandler(runtime Runtime, channels *channel.Registry, verifyMode bool) *Handler {
	return &Handler{
		runtime:    runtime,
		channels:   channels,
		parsers:    make(map[string]InboundParser),
		verifiers:  make(map[string]SignatureVerifier),
		verifyMode: verifyMode,
	}
}

// RegisterChannel wires a channel's inbound parser and, optionally, its
// signature verifier (nil skips verification for that channel even in
// verify mode — some transports, like a generic JSON webhook, have none).
func (h *Handler) RegisterChannel(name string, parser InboundParser, verifier SignatureVerifier) {
	h.parsers[name] = parser
	if verifier != nil {
		h.verifiers[name] = verifier
	}
}

// Handle returns the gin handler for a channel's webhook route.
func (h *Handler) Handle(c *gin.Context) {
	name := c.Param("channel")
	parser, ok := h.parsers[name]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if h.verifyMode {
		if verifier, ok := h.verifiers[name]; ok {
			if !verifier.Verify(c.Request, body) {
				c.Status(http.StatusUnauthorized)
				return
			}
		}
	}

	threadID, channelUserID, message, err := parser.Parse(c.Request, body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	// Ack immediately; the transport's retry behavior on a slow response is
	// worse than a fire-and-forget background turn.
	c.Status(http.StatusAccepted)

	go h.dispatch(name, threadID, channelUserID, message)
}

func (h *Handler) dispatch(channelName, threadID, channelUserID, message string) {
	ctx := context.Background()
	out := h.runtime.RunTurn(ctx, agentrt.RunInput{
		ThreadID:      threadID,
		Message:       message,
		Channel:       channelName,
		ChannelUserID: channelUserID,
	})
	if out.Response == "" {
		return
	}
	if err := h.channels.Send(channelName, channelUserID, out.Response); err != nil {
		slog.Error("webhook: failed to deliver reply", "channel", channelName, "error", err)
	}
}
