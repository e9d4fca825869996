// Package channel implements the channel capability/formatting contract and
// per-(channel,user) ordered dispatch used to deliver turn responses back
// out over whatever transport a thread came in on.
package channel

import (
	"context"
	"fmt"
)

// Capabilities describes what a channel adapter supports, driving both
// formatting (markdown stripping) and chunking (maxMessageLength).
type Capabilities struct {
	Markdown            bool
	Streaming           bool
	MaxMessageLength    int
	SupportsAttachments bool
	SupportsReply       bool
}

// Adapter is the interface every channel (Slack, SMS, a CLI, a webhook
// transport) implements to receive formatted, chunked outbound messages.
type Adapter interface {
	Capabilities() Capabilities
	Send(ctx context.Context, to, content string) error
}

// Registry holds the known channel adapters by name and dispatches sends
// through a per-(channel,user) FIFO queue so delivery order is preserved
// even when a caller fires several sends for the same recipient back to
// back.
type Registry struct {
	adapters map[string]Adapter
	queues   *dispatchQueues
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.queues = newDispatchQueues(r.deliver)
	return r
}

// Register adds an adapter under the given channel name, overwriting any
// existing adapter registered under that name.
func (r *Registry) Register(channel string, adapter Adapter) {
	r.adapters[channel] = adapter
}

// Send formats content for the named channel and enqueues it for delivery
// to `to`, preserving FIFO order against any other in-flight send to the
// same (channel, to) pair. It returns once the send is queued, not once
// delivered — callers that need the delivery error should use SendSync.
func (r *Registry) Send(channel, to, content string) error {
	if _, ok := r.adapters[channel]; !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	r.queues.enqueue(channel, to, content)
	return nil
}

// SendSync formats and delivers content immediately, still serialized
// against other in-flight sends to the same (channel, to) pair, and
// returns the adapter's delivery error.
func (r *Registry) SendSync(ctx context.Context, channel, to, content string) error {
	adapter, ok := r.adapters[channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	errCh := make(chan error, 1)
	r.queues.enqueueFunc(channel, to, func() {
		errCh <- r.sendChunks(ctx, adapter, to, content)
	})
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) deliver(channel, to, content string) {
	adapter, ok := r.adapters[channel]
	if !ok {
		return
	}
	_ = r.sendChunks(context.Background(), adapter, to, content)
}

func (r *Registry) sendChunks(ctx context.Context, adapter Adapter, to, content string) error {
	chunks := FormatForChannel(content, adapter.Capabilities())
	for _, chunk := range chunks {
		if err := adapter.Send(ctx, to, chunk); err != nil {
			return err
		}
	}
	return nil
}
