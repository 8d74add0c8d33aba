package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Step names one transition of the conversation state machine.
type Step string

const (
	StepRetrieve Step = "retrieve"
	StepGenerate Step = "generate"
	StepLog      Step = "log"
)

type Document struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Checksum   string    `json:"checksum,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
	TotalChars int       `json:"total_chars"`
	ChunkCount int       `json:"chunk_count"`
}

// ChunkDraft is a window of document text before it has an id or embedding.
type ChunkDraft struct {
	SequenceIndex int    `json:"sequence_index"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	Text          string `json:"text"`
}

type Chunk struct {
	ChunkID       int64     `json:"chunk_id"`
	DocumentID    string    `json:"document_id"`
	SequenceIndex int       `json:"sequence_index"`
	StartOffset   int       `json:"start_offset"`
	EndOffset     int       `json:"end_offset"`
	Embedding     []float32 `json:"embedding"`
	Text          string    `json:"text"`
}

type ChunkResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

type Session struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type Message struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentStateSnapshot is one immutable audit record of a state machine
// transition. Seq orders it among the session's messages and snapshots.
// Succeeded records the outcome of the step: the retrieval, one generation
// attempt, or the whole turn for the log step. Fallback marks attempts and
// logged results served by the fallback model.
type AgentStateSnapshot struct {
	SessionID         string    `json:"session_id"`
	Seq               int64     `json:"seq"`
	Step              Step      `json:"step"`
	RetrievedChunkIDs []int64   `json:"retrieved_chunk_ids"`
	Scores            []float64 `json:"scores,omitempty"`
	ModelUsed         string    `json:"model_used,omitempty"`
	AttemptNumber     int       `json:"attempt_number,omitempty"`
	Succeeded         bool      `json:"succeeded"`
	Fallback          bool      `json:"fallback,omitempty"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type SessionDetail struct {
	Session  Session              `json:"session"`
	Messages []Message            `json:"messages"`
	States   []AgentStateSnapshot `json:"states"`
}
