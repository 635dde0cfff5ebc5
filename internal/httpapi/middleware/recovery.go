package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/streamcore/streamcore/internal/observability"
)

// Recovery recovers from panics in downstream handlers, logs the panic
// with its stack trace, and returns a 500 instead of crashing the
// process, matching the teacher's internal/http/middleware/recovery.go.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := observability.RequestIDFromContext(r.Context())
					logger.ErrorContext(r.Context(), "panic recovered",
						slog.Any("error", err),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("requestId", requestID),
					)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
