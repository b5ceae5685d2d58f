package models

import (
	"time"
)

// Document is one ingested PDF, identified by the caller and deduplicated by content hash.
type Document struct {
	ID          int64     `db:"id" json:"id"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	FileName    string    `db:"filename" json:"filename"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// PageEntities holds the structured fields parsed from one page's text.
type PageEntities struct {
	SubjectName    *string  `json:"subject_name"`
	DocumentDate   *string  `json:"document_date"`
	SignatureFound bool     `json:"signature_found"`
	TopicMentions  []string `json:"topic_mentions"`
}

// ChunkMetadata is stored as JSONB next to each chunk.
type ChunkMetadata struct {
	SourceDocument   string        `json:"source_document"`
	DocumentID       int64         `json:"document_id"`
	PageNumber       int           `json:"page_number"`
	ChunkIndexOnPage int           `json:"chunk_index_on_page"`
	TextSource       string        `json:"text_source,omitempty"`
	Entities         *PageEntities `json:"entities,omitempty"`
}

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID         string        `db:"logical_chunk_id" json:"logical_chunk_id"`
	DocumentID int64         `db:"document_id" json:"document_id"`
	Text       string        `db:"text" json:"text"`
	Embedding  []float32     `db:"embedding" json:"embedding,omitempty"` // pgvector column, nil until embedded
	Position   int           `db:"chunk_order" json:"chunk_order"`
	TokenCount int           `db:"token_count" json:"token_count"`
	Metadata   ChunkMetadata `db:"metadata" json:"metadata"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// RetrievedChunk is one similarity search hit.
type RetrievedChunk struct {
	ChunkID    string        `json:"chunk_id"`
	DocumentID int64         `json:"document_id"`
	Text       string        `json:"text"`
	Similarity float64       `json:"similarity_score"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// UpsertReport summarises one store write.
type UpsertReport struct {
	Upserted int      `json:"upserted"`
	Skipped  int      `json:"skipped"`
	Pruned   int      `json:"pruned"`
	Warnings []string `json:"warnings,omitempty"`
}

// TaskStatus values follow the broker lifecycle.
type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskStarted TaskStatus = "STARTED"
	TaskSuccess TaskStatus = "SUCCESS"
	TaskFailure TaskStatus = "FAILURE"
	TaskRetry   TaskStatus = "RETRY"
)

// ErrorInfo describes why a task failed or is being retried.
type ErrorInfo struct {
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// TaskState is the queryable view of one ingestion task.
type TaskState struct {
	TaskID    string         `json:"task_id"`
	Status    TaskStatus     `json:"status"`
	Result    *IngestSummary `json:"result"`
	ErrorInfo *ErrorInfo     `json:"error_info"`
}

// IngestJob is the payload handed from the request path to a worker.
type IngestJob struct {
	DocumentID  int64  `json:"document_id"`
	FileName    string `json:"filename"`
	ObjectKey   string `json:"object_key"`
	ContentHash string `json:"content_hash"`
}

// IngestSummary is the task result written by a worker. DocumentID is the id
// the chunks are stored and queried under; it differs from RequestedDocumentID
// when identical content was already stored under another id.
type IngestSummary struct {
	DocumentID          int64 `json:"document_id"`
	RequestedDocumentID int64 `json:"requested_document_id"`
	Deduplicated        bool  `json:"deduplicated"`

	FileName        string `json:"filename"`
	PagesTotal      int    `json:"pages_total"`
	PagesProcessed  int    `json:"pages_processed"`
	PagesFailed     int    `json:"pages_failed"`
	ChunksGenerated int    `json:"chunks_generated"`
	ChunksEmbedded  int    `json:"chunks_embedded"`
	ChunksStored    int    `json:"chunks_stored"`
	ChunksSkipped   int    `json:"chunks_skipped"`
	ChunksPruned    int    `json:"chunks_pruned"`
	StoreOutcome    string `json:"store_outcome"`
}
