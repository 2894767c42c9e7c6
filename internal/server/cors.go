package server

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/ragkit/ragkit-go/internal/logging"
)

// corsGate returns a middleware that enforces the allowed-origin list for
// browser requests. Requests without an Origin header (curl, server-to-server)
// pass through untouched. When the list is empty any origin is allowed and
// echoed back; otherwise a request from an origin not on the list is rejected
// with 403 before any handler work runs.
func corsGate(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if len(allowed) > 0 && !slices.Contains(allowed, origin) {
			logging.FromContext(r.Context()).Warn("cors: origin rejected",
				slog.String("origin", origin),
				slog.String("path", r.URL.Path),
			)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
