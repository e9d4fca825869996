// Package models defines the entities owned by the persistent store.
package models

import "time"

// JobType distinguishes one-shot from recurring scheduled jobs.
type JobType string

const (
	JobOneShot   JobType = "one_shot"
	JobRecurring JobType = "recurring"
)

// JobStatus is the lifecycle state of a ScheduledJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ScheduledJob is a one-shot or recurring job dispatched to the agent
// session coordinator.
type ScheduledJob struct {
	ID           string
	Type         JobType
	Status       JobStatus
	Prompt       string
	ScheduledAt  time.Time
	CronExpr     string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastFiredAt  *time.Time
	LastError    string
}

// SubagentType enumerates the read-only subagent specializations.
type SubagentType string

const (
	SubagentExplore  SubagentType = "explore"
	SubagentResearch SubagentType = "research"
	SubagentPlan     SubagentType = "plan"
)

// TaskStatus is the lifecycle state shared by SubagentTask and TodoTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// SubagentTask is a bounded, read-only unit of work delegated to a subagent.
type SubagentTask struct {
	ID              string
	Type            SubagentType
	Status          TaskStatus
	Prompt          string
	Description     string
	ParentSessionID string
	Result          string
	Error           string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// TodoStatus is the lifecycle state of a TodoTask.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "done"
	TodoCancelled  TodoStatus = "cancelled"
)

// TodoTask is a single item on a thread's working todo list.
type TodoTask struct {
	ID          string
	ThreadID    string
	Title       string
	Description string
	Status      TodoStatus
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MemoryType enumerates the kinds of persistent memory a user or agent can write.
type MemoryType string

const (
	MemoryFact       MemoryType = "fact"
	MemoryPreference MemoryType = "preference"
	MemoryLearning   MemoryType = "learning"
)

// EmbeddingDim is the fixed dimensionality of every stored embedding vector,
// matching the embedding model.
const EmbeddingDim = 1536

// PersistentMemory is a durable fact/preference/learning with an embedding.
type PersistentMemory struct {
	ID        string
	Type      MemoryType
	Content   string
	Tags      []string
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RawMessage is a single captured message inside a MemoryChunk.
type RawMessage struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time
}

// MessageRange identifies the first and last message folded into a chunk.
type MessageRange struct {
	FirstMessageID string
	FirstAt        time.Time
	LastMessageID  string
	LastAt         time.Time
}

// MemoryChunk is an archived, summarized slice of a thread's conversation history.
type MemoryChunk struct {
	ID               string
	ThreadID         string
	BackendSessionID string
	Summary          string
	Messages         []RawMessage
	TokenCount       int
	MessageCount     int
	Range            MessageRange
	SummaryEmbedding []float32
	CreatedAt        time.Time
}

// ArchivalWatermark tracks how far a thread's conversation has been archived.
type ArchivalWatermark struct {
	ThreadID              string
	LastArchivedMessageID string
	LastArchivedAt        time.Time
}

// SearchResultSource distinguishes the origin of a hybrid-search hit.
type SearchResultSource string

const (
	SourceChunk  SearchResultSource = "chunk"
	SourceMemory SearchResultSource = "memory"
)

// SearchResult is one hit returned by the memory retrieval hybrid search.
type SearchResult struct {
	ID             string
	Source         SearchResultSource
	Text           string
	RelevanceScore float64
}
