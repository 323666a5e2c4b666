package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"vexgate/internal/types"
)

// compressibleTypes lists content types worth compressing
var compressibleTypes = map[string]bool{
	"text/html":              true,
	"text/plain":             true,
	"text/css":               true,
	"text/javascript":        true,
	"application/javascript": true,
	"application/json":       true,
	"application/xml":        true,
	"image/svg+xml":          true,
}

// Compression creates compression middleware. Upgrade requests and
// responses that already carry a Content-Encoding pass through
// untouched.
func Compression(level int) types.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
			if encoding == "" {
				next.ServeHTTP(w, r)
				return
			}

			cw := &compressionWriter{
				ResponseWriter: w,
				encoding:       encoding,
				level:          level,
			}
			defer cw.Close()

			next.ServeHTTP(cw, r)
		})
	}
}

// negotiateEncoding picks the strongest encoding the client accepts
func negotiateEncoding(acceptEncoding string) string {
	switch {
	case strings.Contains(acceptEncoding, "br"):
		return "br"
	case strings.Contains(acceptEncoding, "zstd"):
		return "zstd"
	case strings.Contains(acceptEncoding, "gzip"):
		return "gzip"
	default:
		return ""
	}
}

// compressionWriter defers the compress-or-not decision until the
// response headers are known.
type compressionWriter struct {
	http.ResponseWriter
	encoding    string
	level       int
	writer      io.WriteCloser
	wroteHeader bool
	skip        bool
}

func (cw *compressionWriter) WriteHeader(code int) {
	if !cw.wroteHeader {
		cw.wroteHeader = true

		switch {
		case cw.Header().Get("Content-Encoding") != "":
			cw.skip = true
		case code == http.StatusNoContent || code == http.StatusNotModified:
			cw.skip = true
		case !compressibleType(cw.Header().Get("Content-Type")):
			cw.skip = true
		default:
			cw.Header().Set("Content-Encoding", cw.encoding)
			cw.Header().Del("Content-Length") // length changes under compression
			cw.writer = newEncoder(cw.ResponseWriter, cw.encoding, cw.level)
		}
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *compressionWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.skip || cw.writer == nil {
		return cw.ResponseWriter.Write(b)
	}
	return cw.writer.Write(b)
}

// Close flushes the encoder once the handler is done
func (cw *compressionWriter) Close() error {
	if cw.writer != nil {
		return cw.writer.Close()
	}
	return nil
}

func compressibleType(contentType string) bool {
	if contentType == "" {
		return false
	}
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return compressibleTypes[strings.TrimSpace(contentType)]
}

func newEncoder(w io.Writer, encoding string, level int) io.WriteCloser {
	switch encoding {
	case "br":
		return brotli.NewWriterLevel(w, level)
	case "zstd":
		encoder, _ := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		return encoder
	default:
		gzWriter, _ := gzip.NewWriterLevel(w, level)
		return gzWriter
	}
}
