// Package db is the Postgres/pgvector implementation of core.VectorStore.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/models"
)

type DatabaseClient struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// Open connects and sizes the pool without touching the schema.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(max(1, cfg.DBPoolMaxSize))
	db.SetMaxIdleConns(max(0, cfg.DBPoolMinSize))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, failure.Storage("ping", err)
	}
	return db, nil
}

// buildDSN appends SSL params to DATABASE_URL when a root certificate is configured.
func buildDSN(cfg *config.Config) (string, error) {
	if cfg.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if cfg.SslCertPath == "" {
		return cfg.DatabaseURL, nil
	}
	if _, err := os.Stat(cfg.SslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", cfg.SslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewDatabaseClient opens the pool and bootstraps the schema once.
func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return NewFromDB(db, cfg.DBTimeout), nil
}

// NewFromDB wraps an open pool. timeout bounds every operation; zero disables it.
func NewFromDB(db *sql.DB, timeout time.Duration) *DatabaseClient {
	return &DatabaseClient{db: db, timeout: timeout, logger: slog.Default().With("component", "vector-store")}
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return failure.Storage("ping", c.db.PingContext(ctx))
}

func (c *DatabaseClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Documents

const documentColumns = `id, content_hash, filename, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	if err := row.Scan(&d.ID, &d.ContentHash, &d.FileName, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) EnsureDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", failure.ErrValidation)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	existing, err := c.documentByHash(ctx, doc.ContentHash)
	if err != nil {
		return nil, failure.Storage("ensure document", err)
	}
	if existing != nil {
		return existing, nil
	}

	const q = `
		INSERT INTO documents (id, content_hash, filename)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET content_hash = EXCLUDED.content_hash, filename = EXCLUDED.filename, updated_at = now()
		RETURNING ` + documentColumns
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, doc.ID, doc.ContentHash, doc.FileName))
	if err != nil {
		// A concurrent upload of the same bytes won the unique content_hash.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if existing, lookupErr := c.documentByHash(ctx, doc.ContentHash); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, failure.Storage("ensure document", err)
	}
	return d, nil
}

func (c *DatabaseClient) documentByHash(ctx context.Context, hash string) (*models.Document, error) {
	if hash == "" {
		return nil, nil
	}
	const q = `
		UPDATE documents SET updated_at = now()
		WHERE content_hash = $1
		RETURNING ` + documentColumns
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id int64) (*models.Document, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	d, err := scanDocument(c.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, failure.Storage("get document", err)
	}
	return d, nil
}

// Chunks

// UpsertChunks writes chunks in one transaction keyed by logical_chunk_id and
// deletes the document's chunks that are no longer produced. Chunks without
// text or embedding are skipped with a warning. Any row error rolls back everything.
func (c *DatabaseClient) UpsertChunks(ctx context.Context, documentID int64, chunks []models.DocumentChunk) (*models.UpsertReport, error) {
	rep := &models.UpsertReport{}
	if len(chunks) == 0 {
		return rep, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, failure.Storage("begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO chunks
			(logical_chunk_id, document_id, text, chunk_order, token_count, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (logical_chunk_id) DO UPDATE
		SET document_id = EXCLUDED.document_id,
		    text        = EXCLUDED.text,
		    chunk_order = EXCLUDED.chunk_order,
		    token_count = EXCLUDED.token_count,
		    embedding   = EXCLUDED.embedding,
		    metadata    = EXCLUDED.metadata,
		    updated_at  = now()
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, failure.Storage("prepare upsert", err)
	}
	defer stmt.Close()

	keep := make([]string, 0, len(chunks))
	for i := range chunks {
		ch := &chunks[i]
		if ch.ID == "" || ch.Text == "" || len(ch.Embedding) == 0 {
			rep.Skipped++
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("chunk %q skipped: missing text or embedding", ch.ID))
			continue
		}
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			rep.Skipped++
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("chunk %q skipped: metadata: %v", ch.ID, err))
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.Text, ch.Position, ch.TokenCount, pgvector.NewVector(ch.Embedding), string(meta),
		); err != nil {
			return nil, failure.Storage(fmt.Sprintf("upsert chunk %s", ch.ID), err)
		}
		keep = append(keep, ch.ID)
		rep.Upserted++
	}

	if len(keep) > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_id = $1 AND NOT (logical_chunk_id = ANY($2))`,
			documentID, keep)
		if err != nil {
			return nil, failure.Storage("prune chunks", err)
		}
		n, _ := res.RowsAffected()
		rep.Pruned = int(n)
	}

	if err := tx.Commit(); err != nil {
		return nil, failure.Storage("commit upsert", err)
	}
	for _, w := range rep.Warnings {
		c.logger.Warn("chunk validation", "document_id", documentID, "warning", w)
	}
	return rep, nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID int64) ([]models.DocumentChunk, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	const q = `
		SELECT logical_chunk_id, document_id, text, chunk_order, token_count, embedding, metadata, created_at, updated_at
		FROM chunks
		WHERE document_id = $1
		ORDER BY chunk_order ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, failure.Storage("get chunks", err)
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch   models.DocumentChunk
			emb  *pgvector.Vector
			meta []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Text, &ch.Position, &ch.TokenCount, &emb, &meta, &ch.CreatedAt, &ch.UpdatedAt,
		); err != nil {
			return nil, failure.Storage("scan chunk", err)
		}
		if emb != nil {
			ch.Embedding = emb.Slice()
		}
		if err := json.Unmarshal(meta, &ch.Metadata); err != nil {
			c.logger.Warn("chunk metadata unreadable", "chunk_id", ch.ID, "err", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Storage("get chunks", err)
	}
	return out, nil
}

// SearchChunks finds the topK embedded chunks closest to queryVec by cosine
// distance, optionally within one document. topK <= 0 returns nothing without a query.
func (c *DatabaseClient) SearchChunks(ctx context.Context, queryVec []float32, topK int, documentID *int64) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		return []models.RetrievedChunk{}, nil
	}
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", failure.ErrValidation)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var docFilter sql.NullInt64
	if documentID != nil {
		docFilter = sql.NullInt64{Int64: *documentID, Valid: true}
	}

	const q = `
		SELECT logical_chunk_id, document_id, text, metadata, embedding <=> $1 AS distance
		FROM chunks
		WHERE embedding IS NOT NULL
		  AND ($3::bigint IS NULL OR document_id = $3)
		ORDER BY distance ASC, logical_chunk_id ASC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(queryVec), topK, docFilter)
	if err != nil {
		return nil, failure.Storage("search chunks", err)
	}
	defer rows.Close()

	out := make([]models.RetrievedChunk, 0, topK)
	for rows.Next() {
		var (
			rc       models.RetrievedChunk
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&rc.ChunkID, &rc.DocumentID, &rc.Text, &meta, &distance); err != nil {
			return nil, failure.Storage("scan search hit", err)
		}
		rc.Similarity = 1 - distance
		if err := json.Unmarshal(meta, &rc.Metadata); err != nil {
			c.logger.Warn("chunk metadata unreadable", "chunk_id", rc.ChunkID, "err", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Storage("search chunks", err)
	}
	return out, nil
}

var _ core.VectorStore = (*DatabaseClient)(nil)
