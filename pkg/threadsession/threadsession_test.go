package threadsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	r := New(time.Hour)
	r.Set("thread-1", "backend-abc")

	got, ok := r.Get("thread-1")
	require.True(t, ok)
	require.Equal(t, "backend-abc", got)
}

func TestGetMissing(t *testing.T) {
	r := New(time.Hour)
	_, ok := r.Get("nope")
	require.False(t, ok)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	r := New(5 * time.Millisecond)
	r.Set("thread-1", "backend-abc")

	time.Sleep(20 * time.Millisecond)

	_, ok := r.Get("thread-1")
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}

func TestDelete(t *testing.T) {
	r := New(time.Hour)
	r.Set("thread-1", "backend-abc")
	r.Delete("thread-1")

	_, ok := r.Get("thread-1")
	require.False(t, ok)
}
