package store

import (
	stdsql "database/sql"
	"encoding/json"
	"errors"

	"github.com/fern-run/fern/pkg/apierr"
	"github.com/fern-run/fern/pkg/models"
)

// CreateMemoryChunk persists an archived slice of a thread's history.
func (c *Client) CreateMemoryChunk(ctx sqlCtx, chunk *models.MemoryChunk) error {
	messagesJSON, err := json.Marshal(chunk.Messages)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshaling chunk messages", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO memory_chunks (
			id, thread_id, backend_session_id, summary, messages_json, token_count, message_count,
			first_message_id, first_message_at, last_message_id, last_message_at, summary_embedding, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.ThreadID, chunk.BackendSessionID, chunk.Summary, string(messagesJSON),
		chunk.TokenCount, chunk.MessageCount,
		chunk.Range.FirstMessageID, chunk.Range.FirstAt, chunk.Range.LastMessageID, chunk.Range.LastAt,
		encodeVector(chunk.SummaryEmbedding), chunk.CreatedAt,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "inserting memory chunk", err)
	}
	return nil
}

// ListMemoryChunksByThread returns every archived chunk for a thread, oldest first.
func (c *Client) ListMemoryChunksByThread(ctx sqlCtx, threadID string) ([]*models.MemoryChunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, thread_id, backend_session_id, summary, messages_json, token_count, message_count,
			first_message_id, first_message_at, last_message_id, last_message_at, summary_embedding, created_at
		FROM memory_chunks WHERE thread_id = ? ORDER BY first_message_at ASC`, threadID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "listing memory chunks", err)
	}
	defer rows.Close()
	return scanMemoryChunks(rows)
}

// AllMemoryChunks returns every chunk in the store, used by the vector scan
// half of hybrid retrieval.
func (c *Client) AllMemoryChunks(ctx sqlCtx) ([]*models.MemoryChunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, thread_id, backend_session_id, summary, messages_json, token_count, message_count,
			first_message_id, first_message_at, last_message_id, last_message_at, summary_embedding, created_at
		FROM memory_chunks`)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "scanning all memory chunks", err)
	}
	defer rows.Close()
	return scanMemoryChunks(rows)
}

// KeywordSearchMemoryChunks runs an FTS5 match over chunk summaries, ranked
// by bm25 (more negative is more relevant; callers should negate/normalize).
func (c *Client) KeywordSearchMemoryChunks(ctx sqlCtx, query string, limit int) ([]*models.MemoryChunk, []float64, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT mc.id, mc.thread_id, mc.backend_session_id, mc.summary, mc.messages_json, mc.token_count, mc.message_count,
			mc.first_message_id, mc.first_message_at, mc.last_message_id, mc.last_message_at, mc.summary_embedding, mc.created_at,
			bm25(memory_chunks_fts)
		FROM memory_chunks_fts
		JOIN memory_chunks mc ON mc.rowid = memory_chunks_fts.rowid
		WHERE memory_chunks_fts MATCH ?
		ORDER BY bm25(memory_chunks_fts)
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.KindInternal, "keyword searching memory chunks", err)
	}
	defer rows.Close()

	var chunks []*models.MemoryChunk
	var scores []float64
	for rows.Next() {
		var chunk models.MemoryChunk
		var messagesJSON string
		var embedding []byte
		var bm25 float64
		if err := rows.Scan(&chunk.ID, &chunk.ThreadID, &chunk.BackendSessionID, &chunk.Summary, &messagesJSON,
			&chunk.TokenCount, &chunk.MessageCount, &chunk.Range.FirstMessageID, &chunk.Range.FirstAt,
			&chunk.Range.LastMessageID, &chunk.Range.LastAt, &embedding, &chunk.CreatedAt, &bm25); err != nil {
			return nil, nil, apierr.Wrap(apierr.KindInternal, "scanning keyword search row", err)
		}
		_ = json.Unmarshal([]byte(messagesJSON), &chunk.Messages)
		chunk.SummaryEmbedding = decodeVector(embedding)
		chunks = append(chunks, &chunk)
		scores = append(scores, bm25)
	}
	return chunks, scores, rows.Err()
}

func scanMemoryChunks(rows *stdsql.Rows) ([]*models.MemoryChunk, error) {
	var out []*models.MemoryChunk
	for rows.Next() {
		var chunk models.MemoryChunk
		var messagesJSON string
		var embedding []byte
		if err := rows.Scan(&chunk.ID, &chunk.ThreadID, &chunk.BackendSessionID, &chunk.Summary, &messagesJSON,
			&chunk.TokenCount, &chunk.MessageCount, &chunk.Range.FirstMessageID, &chunk.Range.FirstAt,
			&chunk.Range.LastMessageID, &chunk.Range.LastAt, &embedding, &chunk.CreatedAt); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scanning memory chunk", err)
		}
		_ = json.Unmarshal([]byte(messagesJSON), &chunk.Messages)
		chunk.SummaryEmbedding = decodeVector(embedding)
		out = append(out, &chunk)
	}
	return out, rows.Err()
}

// CreatePersistentMemory inserts a durable fact/preference/learning.
func (c *Client) CreatePersistentMemory(ctx sqlCtx, m *models.PersistentMemory) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshaling memory tags", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO persistent_memories (id, type, content, tags_json, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Type, m.Content, string(tags), encodeVector(m.Embedding), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "inserting persistent memory", err)
	}
	return nil
}

// GetPersistentMemory fetches a memory by id.
func (c *Client) GetPersistentMemory(ctx sqlCtx, id string) (*models.PersistentMemory, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, type, content, tags_json, embedding, created_at, updated_at
		FROM persistent_memories WHERE id = ?`, id)
	m, err := scanPersistentMemory(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, apierr.NotFound("memory %s not found", id)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "scanning persistent memory", err)
	}
	return m, nil
}

// DeletePersistentMemory removes a memory outright.
func (c *Client) DeletePersistentMemory(ctx sqlCtx, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM persistent_memories WHERE id = ?`, id)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "deleting persistent memory", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFound("memory %s not found", id)
	}
	return nil
}

// AllPersistentMemories returns every stored memory, used by the vector scan
// half of hybrid retrieval.
func (c *Client) AllPersistentMemories(ctx sqlCtx) ([]*models.PersistentMemory, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, type, content, tags_json, embedding, created_at, updated_at FROM persistent_memories`)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "scanning all persistent memories", err)
	}
	defer rows.Close()

	var out []*models.PersistentMemory
	for rows.Next() {
		m, err := scanPersistentMemory(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scanning persistent memory", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// KeywordSearchPersistentMemories runs an FTS5 match over memory content.
func (c *Client) KeywordSearchPersistentMemories(ctx sqlCtx, query string, limit int) ([]*models.PersistentMemory, []float64, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT pm.id, pm.type, pm.content, pm.tags_json, pm.embedding, pm.created_at, pm.updated_at,
			bm25(persistent_memories_fts)
		FROM persistent_memories_fts
		JOIN persistent_memories pm ON pm.rowid = persistent_memories_fts.rowid
		WHERE persistent_memories_fts MATCH ?
		ORDER BY bm25(persistent_memories_fts)
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.KindInternal, "keyword searching persistent memories", err)
	}
	defer rows.Close()

	var mems []*models.PersistentMemory
	var scores []float64
	for rows.Next() {
		var m models.PersistentMemory
		var tags string
		var embedding []byte
		var bm25 float64
		if err := rows.Scan(&m.ID, &m.Type, &m.Content, &tags, &embedding, &m.CreatedAt, &m.UpdatedAt, &bm25); err != nil {
			return nil, nil, apierr.Wrap(apierr.KindInternal, "scanning keyword search row", err)
		}
		_ = json.Unmarshal([]byte(tags), &m.Tags)
		m.Embedding = decodeVector(embedding)
		mems = append(mems, &m)
		scores = append(scores, bm25)
	}
	return mems, scores, rows.Err()
}

func scanPersistentMemory(row rowScanner) (*models.PersistentMemory, error) {
	var m models.PersistentMemory
	var tags string
	var embedding []byte
	if err := row.Scan(&m.ID, &m.Type, &m.Content, &tags, &embedding, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(tags), &m.Tags)
	m.Embedding = decodeVector(embedding)
	return &m, nil
}

// GetArchivalWatermark fetches the archival progress marker for a thread, or
// nil if the thread has never been archived.
func (c *Client) GetArchivalWatermark(ctx sqlCtx, threadID string) (*models.ArchivalWatermark, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT thread_id, last_archived_message_id, last_archived_at FROM archival_watermarks WHERE thread_id = ?`, threadID)
	var w models.ArchivalWatermark
	if err := row.Scan(&w.ThreadID, &w.LastArchivedMessageID, &w.LastArchivedAt); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierr.Wrap(apierr.KindInternal, "scanning archival watermark", err)
	}
	return &w, nil
}

// UpsertArchivalWatermark advances the archival progress marker for a thread.
func (c *Client) UpsertArchivalWatermark(ctx sqlCtx, w *models.ArchivalWatermark) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO archival_watermarks (thread_id, last_archived_message_id, last_archived_at)
		VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			last_archived_message_id = excluded.last_archived_message_id,
			last_archived_at = excluded.last_archived_at`,
		w.ThreadID, w.LastArchivedMessageID, w.LastArchivedAt,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "upserting archival watermark", err)
	}
	return nil
}
