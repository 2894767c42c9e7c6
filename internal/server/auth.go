package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ragkit/ragkit-go/internal/logging"
)

// authMiddleware enforces Bearer token authentication on protected routes.
// An empty apiKey disables auth entirely (development mode; the startup path
// logs a warning once rather than per request).
//
// Protected routes must supply:
//
//	Authorization: Bearer <apiKey>
//
// Token values are never logged. The comparison is constant-time so response
// timing leaks nothing about key prefixes.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		switch {
		case token == "":
			deny(w, r, `Bearer realm="ragkit"`,
				"authorization required", "auth: missing Authorization header")
		case subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1:
			deny(w, r, `Bearer realm="ragkit" error="invalid_token"`,
				"invalid token", "auth: invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// deny rejects the request with 401, a WWW-Authenticate challenge, and a
// structured warning.
func deny(w http.ResponseWriter, r *http.Request, challenge, body, logMsg string) {
	logging.FromContext(r.Context()).Warn(logMsg,
		slog.String("path", r.URL.Path),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, body, http.StatusUnauthorized)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
