package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

func TestMiddleware(t *testing.T) {
	tokens := newTestTokens(t, time.Hour)
	valid, err := tokens.Issue(77)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantID     int64
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, 77},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, 77},
		{"missing header", "", http.StatusUnauthorized, 0},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, 0},
		{"garbage token", "Bearer nope", http.StatusUnauthorized, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID int64
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := SubjectFrom(r.Context())
				require.True(t, ok)
				gotID = id
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/devices/abc", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			Middleware(tokens, zap.NewNop())(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantID, gotID)

			if tt.wantStatus == http.StatusUnauthorized {
				var p apperr.Problem
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
				assert.Equal(t, "invalid_credentials", p.Type)
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestSubjectFromEmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := SubjectFrom(req.Context())
	assert.False(t, ok)
}
