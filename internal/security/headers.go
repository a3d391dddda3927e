package security

import (
	"bufio"
	"net"
	"net/http"
)

// hardeningHeaders is the fixed header set applied to every response.
var hardeningHeaders = [][2]string{
	{"Content-Security-Policy", "default-src 'self';base-uri 'self';font-src 'self' https: data:;" +
		"form-action 'self';frame-ancestors 'self';img-src 'self' data:;object-src 'none';" +
		"script-src 'self';script-src-attr 'none';style-src 'self' https: 'unsafe-inline';" +
		"upgrade-insecure-requests"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Origin-Agent-Cluster", "?1"},
	{"Referrer-Policy", "no-referrer"},
	{"Strict-Transport-Security", "max-age=15552000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-DNS-Prefetch-Control", "off"},
	{"X-Download-Options", "noopen"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"X-XSS-Protection", "0"},
}

// removedHeaders never leave the process.
var removedHeaders = []string{"X-Powered-By"}

// HardeningHeaders returns a copy of the fixed header set.
func HardeningHeaders() map[string]string {
	out := make(map[string]string, len(hardeningHeaders))
	for _, h := range hardeningHeaders {
		out[h[0]] = h[1]
	}
	return out
}

// Headers returns the hardening headers middleware. When disabled it is
// the identity middleware.
func Headers(enabled bool, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range hardeningHeaders {
				h.Set(kv[0], kv[1])
			}
			if metrics != nil {
				metrics.headersApplied.Inc()
			}
			next.ServeHTTP(&headerRemovingResponseWriter{ResponseWriter: w}, r)
		})
	}
}

// headerRemovingResponseWriter strips removedHeaders before the status
// line is written.
type headerRemovingResponseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *headerRemovingResponseWriter) strip() {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	for _, name := range removedHeaders {
		w.ResponseWriter.Header().Del(name)
	}
}

func (w *headerRemovingResponseWriter) WriteHeader(statusCode int) {
	w.strip()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *headerRemovingResponseWriter) Write(b []byte) (int, error) {
	w.strip()
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (w *headerRemovingResponseWriter) Flush() {
	w.strip()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker.
func (w *headerRemovingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
