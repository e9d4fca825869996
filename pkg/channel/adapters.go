package channel

import "context"

// SlackCapabilities describes Slack's mrkdwn rendering: markdown is left
// intact (Slack's own dialect is close enough to pass through verbatim),
// with Slack's Block Kit section-text limit as the chunk ceiling.
var SlackCapabilities = Capabilities{
	Markdown:            true,
	Streaming:           false,
	MaxMessageLength:    2900,
	SupportsAttachments: true,
	SupportsReply:       true,
}

// SMSCapabilities describes a plain-text SMS transport: no markdown
// rendering at all, and a single-segment-ish length ceiling.
var SMSCapabilities = Capabilities{
	Markdown:            false,
	Streaming:           false,
	MaxMessageLength:    1500,
	SupportsAttachments: false,
	SupportsReply:       false,
}

// WebhookSender delivers a single formatted chunk to an external transport,
// e.g. posting to a Slack incoming-webhook URL or an SMS provider's send
// endpoint. Adapters wrap a WebhookSender with the capabilities that shape
// how content is formatted before it gets here.
type WebhookSender interface {
	Send(ctx context.Context, to, content string) error
}

// WebhookAdapter is a generic Adapter over any transport that can accept a
// single already-formatted chunk per call — the shape every concrete
// channel (Slack, SMS, a dashboard feed) reduces to once formatting has
// happened.
type WebhookAdapter struct {
	caps   Capabilities
	sender WebhookSender
}

// NewWebhookAdapter creates an Adapter with the given capabilities, backed
// by sender for actual delivery.
func NewWebhookAdapter(caps Capabilities, sender WebhookSender) *WebhookAdapter {
	return &WebhookAdapter{caps: caps, sender: sender}
}

func (a *WebhookAdapter) Capabilities() Capabilities { return a.caps }

func (a *WebhookAdapter) Send(ctx context.Context, to, content string) error {
	return a.sender.Send(ctx, to, content)
}
