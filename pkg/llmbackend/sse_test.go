package llmbackend

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadSSEParsesMultipleEvents(t *testing.T) {
	stream := "data: {\"type\":\"text\",\"sessionId\":\"s1\",\"message\":\"hi\"}\n\n" +
		"data: {\"type\":\"session_idle\",\"sessionId\":\"s1\"}\n\n"

	var got []Event
	readSSE(context.Background(), strings.NewReader(stream), func(e Event) {
		got = append(got, e)
	})

	require.Len(t, got, 2)
	require.Equal(t, EventText, got[0].Type)
	require.Equal(t, "hi", got[0].Message)
	require.Equal(t, EventSessionIdle, got[1].Type)
}

func TestReadSSESkipsMalformedPayload(t *testing.T) {
	stream := "data: not json\n\n" +
		"data: {\"type\":\"session_idle\",\"sessionId\":\"s1\"}\n\n"

	var got []Event
	readSSE(context.Background(), strings.NewReader(stream), func(e Event) {
		got = append(got, e)
	})

	require.Len(t, got, 1)
	require.Equal(t, EventSessionIdle, got[0].Type)
}

func TestReadSSEStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := "data: {\"type\":\"text\",\"sessionId\":\"s1\"}\n\n"
	var got []Event
	readSSE(ctx, strings.NewReader(stream), func(e Event) {
		got = append(got, e)
	})

	require.Empty(t, got)
}
