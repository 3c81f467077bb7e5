package server

import (
	"log/slog"
	"net/http"
	"time"
)

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 100 * time.Millisecond

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs all requests with timing. Slow requests
// (>100ms) are logged at WARN level. Websocket upgrades are exempt from
// the slow threshold since they stay open by design.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			logger.Debug("websocket closed",
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds())
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
		}
		switch {
		case rec.status >= 500:
			logger.Error("request failed", attrs...)
		case duration > slowRequestThreshold:
			logger.Warn("slow request", attrs...)
		default:
			logger.Debug("request completed", attrs...)
		}
	})
}

// CORSMiddleware allows cross-origin access for browser clients.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
