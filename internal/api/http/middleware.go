// internal/api/http/middleware.go
package http

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
)

// APIKeyHeader carries the shared internal service secret.
const APIKeyHeader = "X-API-KEY"

// CORS wraps an http.Handler with CORS headers for browser clients.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-KEY")

		// Handle pre-flight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requireAPIKey(secret string, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := domain.CheckAPIKey(r.URL.Path, secret, r.Header.Get(APIKeyHeader)); err != nil {
			trace.SpanFromContext(r.Context()).RecordError(err)
			logger.Warn("rejected request without a valid API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid or missing API Key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
