// ABOUTME: HTTP middlewares for the three authentication classes
// ABOUTME: API key bearer, session cookie, and webhook shared-secret headers

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// secretsEqual compares in constant time regardless of length
func secretsEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// RequireAPIKey authenticates by static key, accepted either as a bearer
// token or in the X-API-Key header.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if got == "" {
				unauthorized(w, "missing API key")
				return
			}
			if !secretsEqual(got, key) {
				unauthorized(w, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession authenticates by session cookie and puts the username on
// the request context.
func RequireSession(sessions *Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil {
				unauthorized(w, "not logged in")
				return
			}
			username, err := sessions.Verify(cookie.Value)
			if err != nil {
				unauthorized(w, "invalid session")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), username)))
		})
	}
}

// RequireHeaderSecret authenticates webhook deliveries by a shared-secret
// header. An empty configured secret rejects everything: a route protected
// this way never falls open by omission.
func RequireHeaderSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				unauthorized(w, "webhook secret not configured")
				return
			}
			if !secretsEqual(r.Header.Get(header), secret) {
				unauthorized(w, "invalid webhook secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
