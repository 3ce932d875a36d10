package devices

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/metrics"
)

// FingerprintHeader carries the device fingerprint on every terminal request.
const FingerprintHeader = "X-Device-Fingerprint"

type contextKey string

const fingerprintKey contextKey = "device_fingerprint"

// WithFingerprint returns a context carrying an admitted fingerprint.
func WithFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, fingerprintKey, fingerprint)
}

// FingerprintFrom returns the fingerprint placed on the context by Middleware.
func FingerprintFrom(ctx context.Context) (string, bool) {
	fp, ok := ctx.Value(fingerprintKey).(string)
	return fp, ok && fp != ""
}

// Middleware admits only authorized devices. Unknown devices are recorded on
// first contact and rejected until an admin authorizes them.
func Middleware(registry *Registry, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fingerprint := r.Header.Get(FingerprintHeader)
			if err := ValidateFingerprint(fingerprint); err != nil {
				metrics.RecordDeviceRejection("invalid")
				apperr.Write(w, err)
				return
			}

			admitted, err := registry.Admit(r.Context(), fingerprint)
			if err != nil {
				logger.Error("device check failed", zap.Error(err), zap.String("fingerprint", fingerprint))
				apperr.Write(w, err)
				return
			}
			if !admitted {
				metrics.RecordDeviceRejection("unauthorized")
				logger.Info("device rejected",
					zap.String("fingerprint", fingerprint),
					zap.String("path", r.URL.Path),
				)
				apperr.Write(w, fmt.Errorf("%w: %s", apperr.ErrNotAuthorized, fingerprint))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithFingerprint(r.Context(), fingerprint)))
		})
	}
}
