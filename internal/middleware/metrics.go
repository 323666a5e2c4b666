package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"vexgate/internal/types"
)

// metricsResponseWriter captures the status code and response size
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if !mrw.wroteHeader {
		mrw.statusCode = code
		mrw.wroteHeader = true
		mrw.ResponseWriter.WriteHeader(code)
	}
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	if !mrw.wroteHeader {
		mrw.WriteHeader(http.StatusOK)
	}
	n, err := mrw.ResponseWriter.Write(b)
	mrw.bytes += int64(n)
	return n, err
}

func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := mrw.ResponseWriter.(http.Hijacker); ok {
		mrw.statusCode = http.StatusSwitchingProtocols
		mrw.wroteHeader = true
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

// Metrics records per-request metrics through the collector
func Metrics(collector types.MetricsCollector) types.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			mrw := &metricsResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(mrw, r)

			collector.RecordRequest(r.Method, r.URL.Path, mrw.statusCode, time.Since(start))
		})
	}
}
