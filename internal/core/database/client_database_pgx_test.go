package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/core/failure"
	"github.com/markdave123-py/docsift/internal/models"
)

func TestBootstrapSQL_TemplatesDimension(t *testing.T) {
	script, err := BootstrapSQL(768)
	require.NoError(t, err)
	assert.Contains(t, script, "vector(768)")
	assert.Contains(t, script, "VALUES (1, 768)")
	assert.NotContains(t, script, "{{EMBED_DIM}}")

	_, err = BootstrapSQL(0)
	assert.Error(t, err)
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(&config.Config{DatabaseURL: "postgres://u:p@localhost:5432/docs"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/docs", dsn)

	cert := filepath.Join(t.TempDir(), "root.crt")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o600))
	dsn, err = buildDSN(&config.Config{DatabaseURL: "postgres://u:p@localhost:5432/docs", SslCertPath: cert})
	require.NoError(t, err)
	assert.Contains(t, dsn, "sslmode=verify-ca")
	assert.Contains(t, dsn, "sslrootcert=")

	_, err = buildDSN(&config.Config{DatabaseURL: "postgres://x", SslCertPath: "/does/not/exist"})
	assert.Error(t, err)

	_, err = buildDSN(&config.Config{})
	assert.Error(t, err)
}

func TestSearchChunks_NonPositiveTopKSkipsDatabase(t *testing.T) {
	// A closed pool would fail any query, so an empty result proves none ran.
	pool, err := sql.Open("pgx", "postgres://invalid:5432/none")
	require.NoError(t, err)
	require.NoError(t, pool.Close())
	c := NewFromDB(pool, time.Second)

	for _, k := range []int{0, -3} {
		hits, err := c.SearchChunks(context.Background(), []float32{1, 0, 0}, k, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
	}
}

// The tests below need a Postgres with pgvector; set TEST_DATABASE_URL to run them.

const testDim = 3

func testClient(t *testing.T) *DatabaseClient {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	c, err := NewDatabaseClient(ctx, &config.Config{
		DatabaseURL:   url,
		DBPoolMinSize: 1,
		DBPoolMaxSize: 4,
		DBTimeout:     10 * time.Second,
		EmbedDim:      testDim,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.db.ExecContext(ctx, `DELETE FROM documents WHERE id BETWEEN 900000 AND 900099`)
	require.NoError(t, err)
	return c
}

func chunk(id string, doc int64, order int, text string, vec []float32) models.DocumentChunk {
	return models.DocumentChunk{
		ID: id, DocumentID: doc, Text: text, Position: order, Embedding: vec,
		Metadata: models.ChunkMetadata{DocumentID: doc, PageNumber: 1, ChunkIndexOnPage: order + 1},
	}
}

func TestIntegration_UpsertIsIdempotentByLogicalID(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	doc, err := c.EnsureDocument(ctx, &models.Document{ID: 900001, ContentHash: "hash-900001", FileName: "a.pdf"})
	require.NoError(t, err)

	_, err = c.UpsertChunks(ctx, doc.ID, []models.DocumentChunk{chunk("doc900001_p1_c1", doc.ID, 0, "first", []float32{1, 0, 0})})
	require.NoError(t, err)
	rep, err := c.UpsertChunks(ctx, doc.ID, []models.DocumentChunk{chunk("doc900001_p1_c1", doc.ID, 0, "second", []float32{0, 1, 0})})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Upserted)

	chunks, err := c.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "second", chunks[0].Text)
	assert.Equal(t, []float32{0, 1, 0}, chunks[0].Embedding)
}

func TestIntegration_SkipsInvalidAndPrunesStale(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	doc, err := c.EnsureDocument(ctx, &models.Document{ID: 900002, ContentHash: "hash-900002"})
	require.NoError(t, err)

	_, err = c.UpsertChunks(ctx, doc.ID, []models.DocumentChunk{
		chunk("doc900002_p1_c1", doc.ID, 0, "keep", []float32{1, 0, 0}),
		chunk("doc900002_p1_c2", doc.ID, 1, "stale", []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	rep, err := c.UpsertChunks(ctx, doc.ID, []models.DocumentChunk{
		chunk("doc900002_p1_c1", doc.ID, 0, "keep", []float32{1, 0, 0}),
		chunk("doc900002_p1_c3", doc.ID, 2, "no vector", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Upserted)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Pruned)
	assert.Len(t, rep.Warnings, 1)
}

func TestIntegration_SearchOrdersByCosineAndFilters(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	a, err := c.EnsureDocument(ctx, &models.Document{ID: 900003, ContentHash: "hash-900003"})
	require.NoError(t, err)
	b, err := c.EnsureDocument(ctx, &models.Document{ID: 900004, ContentHash: "hash-900004"})
	require.NoError(t, err)

	_, err = c.UpsertChunks(ctx, a.ID, []models.DocumentChunk{
		chunk("doc900003_p1_c1", a.ID, 0, "exact", []float32{1, 0, 0}),
		chunk("doc900003_p1_c2", a.ID, 1, "close", []float32{1, 1, 0}),
		chunk("doc900003_p1_c3", a.ID, 2, "far", []float32{0, 0, 1}),
	})
	require.NoError(t, err)
	_, err = c.UpsertChunks(ctx, b.ID, []models.DocumentChunk{
		chunk("doc900004_p1_c1", b.ID, 0, "other doc", []float32{1, 0, 0}),
	})
	require.NoError(t, err)

	hits, err := c.SearchChunks(ctx, []float32{1, 0, 0}, 10, &a.ID)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "exact", hits[0].Text)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].Similarity, hits[i-1].Similarity)
		assert.Equal(t, a.ID, hits[i].DocumentID)
	}

	missing := int64(900099)
	hits, err = c.SearchChunks(ctx, []float32{1, 0, 0}, 5, &missing)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIntegration_EnsureDocumentDeduplicatesByHash(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	first, err := c.EnsureDocument(ctx, &models.Document{ID: 900005, ContentHash: "hash-900005", FileName: "x.pdf"})
	require.NoError(t, err)
	again, err := c.EnsureDocument(ctx, &models.Document{ID: 900006, ContentHash: "hash-900005", FileName: "copy.pdf"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	dup, err := c.GetDocumentByID(ctx, 900006)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestIntegration_UpsertForUnknownDocumentIsStorageError(t *testing.T) {
	c := testClient(t)
	_, err := c.UpsertChunks(context.Background(), 900098, []models.DocumentChunk{
		chunk("doc900098_p1_c1", 900098, 0, "orphan", []float32{1, 0, 0}),
	})
	assert.ErrorIs(t, err, failure.ErrStorage)
}
