package middleware

import (
	"crypto/subtle"
	"net/http"

	apperrors "github.com/3leaps/cloakd/internal/errors"
)

// APIKeyHeader carries the client credential.
const APIKeyHeader = "x-api-key"

// APIKey enforces a shared-key check on the wrapped routes. An empty
// configured key disables the check entirely (local development); the
// server logs a warning at wiring time in that case.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				apperrors.RespondWithError(w, http.StatusUnauthorized,
					apperrors.CodeUnauthorized, "invalid or missing API key",
					GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
