// Package middleware holds the HTTP layers wrapped around the API mux.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sugawarayuuta/sonnet"
)

// Auth admits a connection carrying the shared API key as a Bearer token or
// in X-API-Key. The key gates transport only: who may execute is decided by
// the envelope signature further in. An empty apiKey disables the check.
// Paths listed in open, and anything under a listed prefix ending in "/",
// skip it.
func Auth(apiKey string, open ...string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || isOpen(r.URL.Path, open) {
				next.ServeHTTP(w, r)
				return
			}
			token := bearerOrKey(r)
			if token == "" {
				reject(w, http.StatusUnauthorized, "unauthorized", "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				reject(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isOpen(path string, open []string) bool {
	for _, p := range open {
		if p == path || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func bearerOrKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// reject writes the same error shape the handlers use, so clients parse one
// format whichever layer refused them.
func reject(w http.ResponseWriter, status int, kind, msg string) {
	body, _ := sonnet.Marshal(map[string]string{"error": msg, "kind": kind})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}
