package core

import (
	"context"

	"github.com/markdave123-py/docsift/internal/models"
)

// VectorStore is the sole writer of documents and chunks.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type VectorStore interface {
	// EnsureDocument resolves doc by content hash first, then upserts it by id.
	// The returned document carries the id chunks must be written under.
	EnsureDocument(ctx context.Context, doc *models.Document) (*models.Document, error)
	GetDocumentByID(ctx context.Context, id int64) (*models.Document, error)

	// UpsertChunks writes all chunks of one document in a single transaction keyed by logical chunk id.
	UpsertChunks(ctx context.Context, documentID int64, chunks []models.DocumentChunk) (*models.UpsertReport, error)
	GetChunksByDocument(ctx context.Context, documentID int64) ([]models.DocumentChunk, error)

	// SearchChunks returns up to topK embedded chunks ordered by ascending cosine distance.
	SearchChunks(ctx context.Context, queryVec []float32, topK int, documentID *int64) ([]models.RetrievedChunk, error)

	Ping(ctx context.Context) error
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so you can replace AWS with MinIO, GCP, or a local directory.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
}
