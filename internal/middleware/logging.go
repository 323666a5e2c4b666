package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"vexgate/internal/types"
)

// loggingResponseWriter captures response details for logging
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.statusCode == 0 {
		lrw.statusCode = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += n
	return n, err
}

// Hijack lets upgrade handshakes pass through the access log wrapper.
// The handler owns the connection afterwards, so the status is recorded
// as 101 here.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		lrw.statusCode = http.StatusSwitchingProtocols
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

// AccessLogging creates access logging middleware
func AccessLogging(logger types.Logger) types.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lrw := &loggingResponseWriter{ResponseWriter: w}

			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path = path + "?" + r.URL.RawQuery
			}

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)
			fields := []any{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", path,
				"status", lrw.statusCode,
				"duration_ms", duration.Milliseconds(),
				"bytes", lrw.bytes,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			}

			switch {
			case lrw.statusCode >= 500:
				logger.Error("request failed", fields...)
			case lrw.statusCode >= 400:
				logger.Warn("request rejected", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
