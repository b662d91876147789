// Package security provides request hygiene middleware for the HTTP surface.
package security

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// healthPaths bypass filtering so liveness checks keep working under attack traffic.
var healthPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

// scannerPrefixes mark paths that only automated scanners request. None of
// them collide with the /api/v1 surface.
var scannerPrefixes = []string{
	"/.php",
	"/wp-admin",
	"/wp-includes",
	"/wp-content",
	"/wp-login",
	"/.git/",
	"/.env",
	"/web-inf/",
	"/cgi-bin/",
	"/admin/",
	"/phpmyadmin",
	"/phpinfo",
	"/shell",
	"/config.",
	"/.htaccess",
	"/.htpasswd",
	"/server-status",
	"/xmlrpc.php",
}

// traversalPatterns match path traversal and null byte injection in both
// raw and percent-encoded forms.
var traversalPatterns = []string{
	"../",
	"..%2f",
	"..%5c",
	"%2e%2e/",
	"%00",
}

// blockedPath reports whether a lowercased request path matches a known
// scanner or traversal pattern.
func blockedPath(path string) bool {
	for _, prefix := range scannerPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, pattern := range traversalPatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// FilterMiddleware rejects requests whose paths match known scanner patterns
// or traversal attempts. The check runs on the path as received and again
// after percent-decoding, so encoding does not mask a traversal.
func FilterMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if healthPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			path := strings.ToLower(r.URL.Path)
			if blockedPath(path) {
				writeBlocked(w)
				return
			}

			raw := r.URL.RawPath
			if raw == "" {
				raw = r.URL.Path
			}
			if decoded, err := url.PathUnescape(raw); err == nil {
				if lower := strings.ToLower(decoded); lower != path && blockedPath(lower) {
					writeBlocked(w)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeBlocked answers with a generic 400; the response never names the
// pattern that matched.
func writeBlocked(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "BAD_REQUEST",
			"message": "Invalid request",
		},
	})
}
