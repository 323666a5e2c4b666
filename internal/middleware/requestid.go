package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"vexgate/internal/types"
)

// RequestIDHeader carries the correlation id on requests and responses
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID attaches a correlation id to every request. An inbound
// X-Request-ID is trusted and propagated; otherwise a new id is
// generated. The id is set on the response before the handler runs so
// that every response carries it, including errors.
func RequestID() types.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
				r.Header.Set(RequestIDHeader, requestID)
			}

			w.Header().Set(RequestIDHeader, requestID)

			ctx := ContextWithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextWithRequestID adds a correlation id to the context
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the correlation id from the context
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
