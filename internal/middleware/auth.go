package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenMiddleware requires the API token on every request except the camera
// stream and health check. The token is accepted as a Bearer Authorization
// header or, for browser WebSockets, a "token" query parameter. An empty
// token disables the check.
func TokenMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || strings.HasPrefix(r.URL.Path, "/api/stream") {
			next.ServeHTTP(w, r)
			return
		}

		if !validToken(r, token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="keen"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validToken(r *http.Request, token string) bool {
	got := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		got = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
