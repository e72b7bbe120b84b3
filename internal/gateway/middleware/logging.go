package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"convbridge/pkg/logger"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// quietPaths are polled by probes and scrapers and are not logged.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Logging returns a middleware that logs HTTP requests.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if quietPaths[r.URL.Path] {
			return
		}

		log := logger.Component("gateway")
		event := log.Info()
		if wrapped.status >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("latency", time.Since(start)).
			Str("ip", getClientIP(r)).
			Msg("HTTP request")
	})
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For may carry a proxy chain; the first hop is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
