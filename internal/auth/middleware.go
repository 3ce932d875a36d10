package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
)

// Verifier verifies a bearer token and returns its subject id.
type Verifier interface {
	Verify(token string) (int64, error)
}

type contextKey string

const subjectKey contextKey = "subject_id"

// WithSubject returns a context carrying a verified subject id.
func WithSubject(ctx context.Context, subjectID int64) context.Context {
	return context.WithValue(ctx, subjectKey, subjectID)
}

// SubjectFrom returns the subject id placed on the context by Middleware.
func SubjectFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(subjectKey).(int64)
	return id, ok
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// Middleware rejects requests without a valid bearer token and stores the
// verified subject id on the request context.
func Middleware(tokens Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				apperr.Write(w, fmt.Errorf("%w: missing bearer token", apperr.ErrInvalidCredentials))
				return
			}

			subjectID, err := tokens.Verify(token)
			if err != nil {
				logger.Debug("bearer token rejected",
					zap.Error(err),
					zap.String("path", r.URL.Path),
				)
				apperr.Write(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subjectID)))
		})
	}
}
