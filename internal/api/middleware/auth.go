// Package middleware holds the HTTP middleware shared by the API routes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronSecretHeader carries the shared secret of scheduled callers.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret rejects requests that do not present secret, either in
// X-Cron-Secret or as a bearer token. An empty secret rejects everything.
func CronSecret(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && matches(presented(r), secret) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "Invalid cron secret", "type": "authentication_error"}}`))
		})
	}
}

func presented(r *http.Request) string {
	if v := r.Header.Get(CronSecretHeader); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func matches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
