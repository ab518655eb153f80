package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	apperrors "github.com/3leaps/cloakd/internal/errors"
)

// RateLimit bounds requests across all callers with a token bucket.
// Requests beyond the budget get 429 without queueing; anonymization
// submissions are heavyweight enough that shedding beats buffering.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				apperrors.RespondWithError(w, http.StatusTooManyRequests,
					apperrors.CodeRateLimited, "rate limit exceeded, retry later",
					GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
