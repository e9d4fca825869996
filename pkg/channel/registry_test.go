package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingAdapter struct {
	caps Capabilities

	mu       sync.Mutex
	received []string
}

func (a *recordingAdapter) Capabilities() Capabilities { return a.caps }

func (a *recordingAdapter) Send(ctx context.Context, to, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received = append(a.received, content)
	return nil
}

func (a *recordingAdapter) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.received...)
}

func TestSendRejectsUnknownChannel(t *testing.T) {
	r := NewRegistry()
	err := r.Send("nonexistent", "user-1", "hi")
	require.Error(t, err)
}

func TestSendSyncDeliversFormattedContent(t *testing.T) {
	r := NewRegistry()
	adapter := &recordingAdapter{caps: Capabilities{Markdown: true, MaxMessageLength: 10000}}
	r.Register("test", adapter)

	err := r.SendSync(context.Background(), "test", "user-1", "hello world")
	require.NoError(t, err)
	require.Equal(t, []string{"hello world"}, adapter.snapshot())
}

func TestSendPreservesOrderPerRecipient(t *testing.T) {
	r := NewRegistry()
	adapter := &recordingAdapter{caps: Capabilities{Markdown: true, MaxMessageLength: 10000}}
	r.Register("test", adapter)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Send("test", "user-1", string(rune('a'+i))))
	}

	require.Eventually(t, func() bool {
		return len(adapter.snapshot()) == 5
	}, time.Second, 10*time.Millisecond)

	received := adapter.snapshot()
	for i, c := range received {
		require.Equal(t, string(rune('a'+i)), c)
	}
}

func TestSendDoesNotInterleaveDifferentRecipients(t *testing.T) {
	r := NewRegistry()
	adapter := &recordingAdapter{caps: Capabilities{Markdown: true, MaxMessageLength: 10000}}
	r.Register("test", adapter)

	require.NoError(t, r.Send("test", "user-1", "u1-msg"))
	require.NoError(t, r.Send("test", "user-2", "u2-msg"))

	require.Eventually(t, func() bool {
		return len(adapter.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
}
