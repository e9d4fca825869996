// Package events broadcasts per-thread agent progress over WebSocket. It
// implements agentrt.ProgressPublisher, collapsing a Postgres-LISTEN/NOTIFY
// style fan-out into an in-process per-thread broadcast: a single Fern
// process has no cross-process subscriber to reach, so the broadcast loop
// lives entirely in memory.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/fern-run/fern/pkg/agentrt"
)

// writeTimeout bounds how long a single connection's send may block before
// it's treated as unresponsive and skipped for this event.
const writeTimeout = 5 * time.Second

// connection is a single subscribed WebSocket client.
type connection struct {
	id   string
	conn *websocket.Conn
}

// Manager broadcasts agentrt.ProgressEvent values to every connection
// subscribed to a thread. One Manager instance per process.
type Manager struct {
	mu   sync.RWMutex
	subs map[string]map[string]*connection // threadID -> connID -> connection
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{subs: make(map[string]map[string]*connection)}
}

// Publish implements agentrt.ProgressPublisher: it fans ev out to every
// connection currently subscribed to threadID.
func (m *Manager) Publish(threadID string, ev agentrt.ProgressEvent) {
	m.mu.RLock()
	conns, ok := m.subs[threadID]
	if !ok {
		m.mu.RUnlock()
		return
	}
	snapshot := make([]*connection, 0, len(conns))
	for _, c := range conns {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Marshaling progress event", "thread_id", threadID, "error", err)
		return
	}

	for _, c := range snapshot {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			slog.Warn("Progress event delivery failed", "connection_id", c.id, "thread_id", threadID, "error", err)
		}
	}
}

// HandleConnection subscribes conn to threadID's progress stream and blocks
// until the connection closes (read loop exits). Called by the HTTP
// handler after the WebSocket upgrade.
func (m *Manager) HandleConnection(parentCtx context.Context, threadID string, conn *websocket.Conn) {
	c := &connection{id: uuid.New().String(), conn: conn}

	m.mu.Lock()
	if m.subs[threadID] == nil {
		m.subs[threadID] = make(map[string]*connection)
	}
	m.subs[threadID][c.id] = c
	m.mu.Unlock()

	defer m.unregister(threadID, c.id)

	for {
		if _, _, err := conn.Read(parentCtx); err != nil {
			return
		}
	}
}

func (m *Manager) unregister(threadID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.subs[threadID]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(m.subs, threadID)
	}
}

// SubscriberCount returns the number of active connections subscribed to
// threadID. Used by tests and the health endpoint instead of sleeping.
func (m *Manager) SubscriberCount(threadID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[threadID])
}
