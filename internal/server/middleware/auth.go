package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pysugar/metric-garden/internal/auth/session"
)

// CronSecretAuth validates the cron bearer secret from the Authorization header.
// secret is read on every request so a regenerated secret applies immediately.
// An empty secret rejects everything.
func CronSecretAuth(secret func() string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := secret()
			token, ok := bearerToken(r)
			if expected == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionAuth verifies the session token from the session cookie, or from a
// Bearer header for API clients, and puts the user ID on the request context.
func SessionAuth(sessions *session.Manager, cookieName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw string
			if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
				raw = cookie.Value
			} else if token, ok := bearerToken(r); ok {
				raw = token
			}
			if raw == "" {
				writeUnauthorized(w)
				return
			}

			claims, err := sessions.Verify(raw)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithUserID(r.Context(), claims.Subject)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "Unauthorized"}`))
}
