// Package auth carries the HTTP middleware of the service: the admin
// bearer gate, CORS, and request-ID correlation.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// BearerGate guards the management endpoints with a static bearer secret.
// An empty secret disables the gated endpoints entirely (503), so an
// unconfigured deployment cannot be administered by accident.
func BearerGate(adminSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminSecret == "" {
				writeAuthError(w, http.StatusServiceUnavailable, "admin_disabled",
					"Admin endpoints are disabled (admin secret not configured)")
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Missing authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(adminSecret)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Invalid admin credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token of an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// writeAuthError mirrors the api package's envelope without importing it
// (the api package depends on this one).
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
