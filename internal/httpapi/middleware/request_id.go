package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/streamcore/streamcore/internal/observability"
)

// RequestIDHeader is the HTTP header carrying the request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID injects a request ID into the context (reusing the caller's
// X-Request-ID header if present), matching the teacher's
// internal/http/middleware/request_id.go, but storing it through
// observability.ContextWithRequestID so downstream logging already has
// a place to read it from.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := observability.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
