package llmbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Subscription is a handle to an open event stream. Cancel stops delivery;
// the consumer loop is cooperative and respects an aborted flag.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNoopSubscription returns a Subscription whose Unsubscribe is a no-op,
// for backends that have nothing to tear down (e.g. test fakes).
func NewNoopSubscription() *Subscription {
	return &Subscription{cancel: func() {}, done: closedChan}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Unsubscribe stops the stream and waits for its goroutine to exit.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// SubscribeEvents opens the backend's SSE stream for sessionID and invokes
// onEvent for every event as it arrives. The subscription must be
// established before Prompt is submitted so the session.idle signal cannot
// be missed. onClose fires once the stream's read loop returns for any
// reason (server hangup, cancel, decode failure); it may be nil.
func (b *Backend) SubscribeEvents(ctx context.Context, sessionID string, onEvent func(Event), onClose func()) (*Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, b.baseURLSnapshot()+"/sessions/"+sessionID+"/events", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, errStatus(resp.StatusCode)
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer resp.Body.Close()
		readSSE(streamCtx, resp.Body, onEvent)
		if onClose != nil {
			onClose()
		}
	}()
	return sub, nil
}

// readSSE parses the `data: <json>\n\n` framing used by the backend's event
// stream and decodes each payload into an Event.
func readSSE(ctx context.Context, body io.Reader, onEvent func(Event)) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Warn("Discarding malformed backend event", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
			onEvent(ev)
		}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Ignore event:/id:/comment lines; Fern only needs the payload.
		}
	}
	flush()
}

type errStatus int

func (e errStatus) Error() string {
	return "unexpected status opening event stream: " + httpStatusText(int(e))
}

func httpStatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "unknown"
}
