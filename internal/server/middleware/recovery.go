package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/cloakd/internal/errors"
	"github.com/3leaps/cloakd/internal/observability"
)

// ErrorResponse is the JSON envelope returned by middleware failures.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts handler panics into a 500 JSON error response instead
// of tearing down the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				observability.ServerLogger.Error("handler panic",
					zap.Any("panic", p),
					zap.String("path", r.URL.Path),
					zap.String("request_id", GetRequestID(r.Context())))
				apperrors.RespondWithError(w, http.StatusInternalServerError,
					apperrors.CodeInternal,
					fmt.Sprintf("panic: %v", p),
					GetRequestID(r.Context()))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
