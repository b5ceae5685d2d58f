package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func protected(secret string) http.Handler {
	return JWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, _ := Subject(r.Context())
		_, _ = w.Write([]byte(sub))
	}))
}

func TestJWT(t *testing.T) {
	valid := sign(t, "s3cret", jwt.RegisteredClaims{Subject: "svc-a", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	expired := sign(t, "s3cret", jwt.RegisteredClaims{Subject: "svc-a", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	wrongKey := sign(t, "other", jwt.RegisteredClaims{Subject: "svc-a"})
	noSubject := sign(t, "s3cret", jwt.RegisteredClaims{})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"no subject", "Bearer " + noSubject, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected("s3cret").ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "svc-a", rec.Body.String())
			}
		})
	}
}

func TestJWT_DisabledWithoutSecret(t *testing.T) {
	rec := httptest.NewRecorder()
	protected("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
