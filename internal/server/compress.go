package server

import (
	"mime"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

var compressibleTypes = map[string]bool{
	"text/html":              true,
	"text/css":               true,
	"text/javascript":        true,
	"text/plain":             true,
	"application/javascript": true,
	"application/json":       true,
	"image/svg+xml":          true,
}

// compress brotli-encodes text responses for clients that accept br.
func (s *Server) compress(next http.Handler) http.Handler {
	if !s.opts.Compress {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsBrotli(r.Header.Get("Accept-Encoding")) {
			next.ServeHTTP(w, r)
			return
		}

		// Byte ranges of the encoded body are meaningless to the client.
		r.Header.Del("Range")

		bw := &brotliResponseWriter{ResponseWriter: w}
		defer bw.Close()
		next.ServeHTTP(bw, r)
	})
}

func acceptsBrotli(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "br") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

func compressible(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return compressibleTypes[mediaType]
}

// brotliResponseWriter decides on the first WriteHeader whether the body is
// worth compressing.
type brotliResponseWriter struct {
	http.ResponseWriter
	writer  *brotli.Writer
	decided bool
}

func (w *brotliResponseWriter) WriteHeader(code int) {
	if !w.decided {
		w.decided = true
		h := w.Header()
		if code == http.StatusOK && h.Get("Content-Encoding") == "" && compressible(h.Get("Content-Type")) {
			h.Del("Content-Length")
			h.Set("Content-Encoding", "br")
			h.Add("Vary", "Accept-Encoding")
			w.writer = brotli.NewWriterLevel(w.ResponseWriter, brotli.DefaultCompression)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *brotliResponseWriter) Write(p []byte) (int, error) {
	if !w.decided {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType(p))
		}
		w.WriteHeader(http.StatusOK)
	}
	if w.writer != nil {
		return w.writer.Write(p)
	}
	return w.ResponseWriter.Write(p)
}

// Close flushes the encoder. It is a no-op for uncompressed responses.
func (w *brotliResponseWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	return w.writer.Close()
}
