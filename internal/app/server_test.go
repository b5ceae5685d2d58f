package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docsift/internal/api/handlers"
	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/core/mock"
	"github.com/markdave123-py/docsift/internal/queue"
	"github.com/markdave123-py/docsift/internal/services"
)

func testRouter(t *testing.T, secret string) http.Handler {
	t.Helper()
	store := mock.NewMemoryVectorStore()
	q, err := queue.NewMemoryQueue(nil, queue.MemoryOptions{Concurrency: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	cfg := &config.Config{JWTSecret: secret, CORSOrigins: []string{"http://localhost:5173"}, MaxUploadMB: 1}
	return NewRouter(cfg, Routes{
		Documents: handlers.NewDocumentHandler(services.NewIntakeService(mock.NewMemoryObjectClient(), q, nil), q, 1, nil),
		Queries:   handlers.NewQueryHandler(services.NewQueryService(store, mock.NewMockEmbedder(), mock.NewMockLLM(), 5, nil, nil), nil),
		Health:    handlers.NewHealthHandler(map[string]handlers.Pinger{"database": store, "queue": q}),
	})
}

func TestRouter_Routes(t *testing.T) {
	r := testRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/process-pdf/status/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"PENDING"`)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query-document/4", strings.NewReader(`{"user_query":"anything?"}`))
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_JWTProtectsPipelineRoutes(t *testing.T) {
	r := testRouter(t, "s3cret")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/process-pdf/status/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "uploader",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/process-pdf/status/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
