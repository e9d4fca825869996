// Package memory implements the archival pipeline (compacting conversation
// history into summarized, embedded chunks) and the hybrid vector+keyword
// retrieval that reads them back.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fern-run/fern/pkg/apierr"
	"github.com/fern-run/fern/pkg/config"
	"github.com/fern-run/fern/pkg/ids"
	"github.com/fern-run/fern/pkg/llmbackend"
	"github.com/fern-run/fern/pkg/masking"
	"github.com/fern-run/fern/pkg/models"
)

const (
	// chunkTokenMin is the floor below which archival does nothing — wait for
	// more conversation to accumulate rather than archiving a sliver.
	chunkTokenMin = 15_000
	// chunkTokenThreshold is the target size a chunk greedily fills to.
	chunkTokenThreshold = 25_000
	// chunkTokenMax is the hard ceiling a chunk never straddles.
	chunkTokenMax = 40_000

	maxSummaryTokens = 1024

	summarizationSystemPrompt = "Summarize the following conversation excerpt concisely. " +
		"Preserve key facts, decisions, and action items. Respond with the summary text only."
)

// Store is the subset of pkg/store's DAO the memory manager needs.
type Store interface {
	CreateMemoryChunk(ctx context.Context, chunk *models.MemoryChunk) error
	ListMemoryChunksByThread(ctx context.Context, threadID string) ([]*models.MemoryChunk, error)
	AllMemoryChunks(ctx context.Context) ([]*models.MemoryChunk, error)
	KeywordSearchMemoryChunks(ctx context.Context, query string, limit int) ([]*models.MemoryChunk, []float64, error)
	CreatePersistentMemory(ctx context.Context, m *models.PersistentMemory) error
	GetPersistentMemory(ctx context.Context, id string) (*models.PersistentMemory, error)
	DeletePersistentMemory(ctx context.Context, id string) error
	AllPersistentMemories(ctx context.Context) ([]*models.PersistentMemory, error)
	KeywordSearchPersistentMemories(ctx context.Context, query string, limit int) ([]*models.PersistentMemory, []float64, error)
	GetArchivalWatermark(ctx context.Context, threadID string) (*models.ArchivalWatermark, error)
	UpsertArchivalWatermark(ctx context.Context, w *models.ArchivalWatermark) error
}

// Backend is the subset of pkg/llmbackend's Backend the memory manager needs.
type Backend interface {
	SessionMessages(ctx context.Context, sessionID string) ([]llmbackend.Message, error)
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Manager runs the archival pipeline and retrieval. It implements
// agentrt.MemoryNotifier.
type Manager struct {
	store   Store
	backend Backend
	masker  *masking.Service
	tokens  *tokenCounter
	cfg     *config.MemoryConfig
	queues  *queues

	sessionsMu sync.Mutex
	sessions   map[string]string // threadID -> backend session id awaiting archival
}

// NewManager creates a Manager.
func NewManager(store Store, backend Backend, masker *masking.Service, cfg *config.MemoryConfig) *Manager {
	m := &Manager{
		store:    store,
		backend:  backend,
		masker:   masker,
		tokens:   newTokenCounter(),
		cfg:      cfg,
		sessions: make(map[string]string),
	}
	m.queues = newQueues(m.runArchival)
	return m
}

// OnTurnComplete is the fire-and-forget hook the agent runtime calls after
// every turn. It only schedules a run on threadID's per-thread queue: a
// failure here must never surface as a turn failure.
func (m *Manager) OnTurnComplete(threadID, backendSessionID string) {
	if !m.cfg.Enabled {
		return
	}
	m.sessionsMu.Lock()
	m.sessions[threadID] = backendSessionID
	m.sessionsMu.Unlock()

	m.queues.trigger(threadID)
}

func (m *Manager) runArchival(threadID string) {
	m.sessionsMu.Lock()
	backendSessionID := m.sessions[threadID]
	m.sessionsMu.Unlock()
	if backendSessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := m.archiveThread(ctx, threadID, backendSessionID); err != nil {
		slog.Error("Memory archival failed", "thread_id", threadID, "error", err)
	}
}

// archiveThread runs one archival pass: fetch new messages since the
// watermark, chunk them, summarize + embed + persist each chunk, and advance
// the watermark.
func (m *Manager) archiveThread(ctx context.Context, threadID, backendSessionID string) error {
	messages, err := m.backend.SessionMessages(ctx, backendSessionID)
	if err != nil {
		return err
	}

	watermark, err := m.store.GetArchivalWatermark(ctx, threadID)
	if err != nil {
		return err
	}

	newMessages := messages
	if watermark != nil {
		newMessages = messagesAfter(messages, watermark.LastArchivedMessageID)
	}
	if len(newMessages) == 0 {
		return nil
	}

	total := 0
	for _, msg := range newMessages {
		total += m.tokens.count(msg.Content)
	}
	if total < chunkTokenMin {
		return nil
	}

	chunks := chunkMessages(newMessages, m.tokens)
	var lastMessage llmbackend.Message
	for _, chunk := range chunks {
		if err := m.archiveChunk(ctx, threadID, backendSessionID, chunk); err != nil {
			return err
		}
		lastMessage = chunk[len(chunk)-1]
	}

	return m.store.UpsertArchivalWatermark(ctx, &models.ArchivalWatermark{
		ThreadID:              threadID,
		LastArchivedMessageID: lastMessage.ID,
		LastArchivedAt:        time.Now(),
	})
}

func (m *Manager) archiveChunk(ctx context.Context, threadID, backendSessionID string, chunk []llmbackend.Message) error {
	transcript := formatTranscript(chunk, m.masker)

	summary, err := m.backend.Complete(ctx, summarizationSystemPrompt, transcript, maxSummaryTokens)
	if err != nil {
		return err
	}
	summary = m.masker.Mask(summary)

	embedding, err := m.backend.Embed(ctx, summary)
	if err != nil {
		return err
	}

	raw := make([]models.RawMessage, len(chunk))
	tokenCount := 0
	for i, msg := range chunk {
		content := m.masker.Mask(msg.Content)
		raw[i] = models.RawMessage{ID: msg.ID, Role: msg.Role, Content: content, Timestamp: msg.Timestamp}
		tokenCount += m.tokens.count(content)
	}

	return m.store.CreateMemoryChunk(ctx, &models.MemoryChunk{
		ID:               ids.New(ids.PrefixChunk),
		ThreadID:         threadID,
		BackendSessionID: backendSessionID,
		Summary:          summary,
		Messages:         raw,
		TokenCount:       tokenCount,
		MessageCount:     len(chunk),
		Range: models.MessageRange{
			FirstMessageID: chunk[0].ID,
			FirstAt:        chunk[0].Timestamp,
			LastMessageID:  chunk[len(chunk)-1].ID,
			LastAt:         chunk[len(chunk)-1].Timestamp,
		},
		SummaryEmbedding: embedding,
		CreatedAt:        time.Now(),
	})
}

// ReadChunk returns the full raw message list for a chunk, or nil if it
// doesn't exist or belongs to a different thread.
func (m *Manager) ReadChunk(ctx context.Context, threadID, chunkID string) (*models.MemoryChunk, error) {
	chunks, err := m.store.ListMemoryChunksByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.ID == chunkID {
			return c, nil
		}
	}
	return nil, nil
}

// WriteMemory validates, embeds, and persists a durable fact/preference/learning.
func (m *Manager) WriteMemory(ctx context.Context, memType models.MemoryType, content string, tags []string) (*models.PersistentMemory, error) {
	if content == "" {
		return nil, apierr.Validation("content must not be empty")
	}
	masked := m.masker.Mask(content)

	embedding, err := m.backend.Embed(ctx, masked)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	mem := &models.PersistentMemory{
		ID:        ids.New(ids.PrefixMemory),
		Type:      memType,
		Content:   masked,
		Tags:      tags,
		Embedding: embedding,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreatePersistentMemory(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// DeleteMemory removes a persistent memory outright. Irreversible.
func (m *Manager) DeleteMemory(ctx context.Context, id string) error {
	return m.store.DeletePersistentMemory(ctx, id)
}

func messagesAfter(messages []llmbackend.Message, lastID string) []llmbackend.Message {
	if lastID == "" {
		return messages
	}
	for i, msg := range messages {
		if msg.ID == lastID {
			return messages[i+1:]
		}
	}
	return messages
}
