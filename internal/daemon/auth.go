package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authenticated validates the API bearer token. If no token is configured,
// every request passes through.
func (s *apiServer) authenticated(next http.HandlerFunc) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !secretMatches(bearerToken(r), s.token) {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// cronAuthenticated accepts the recovery secret as a bearer token or in
// X-Cron-Secret. Without a configured secret the route is unavailable.
func (s *apiServer) cronAuthenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cronSecret == "" {
			s.writeError(w, r, http.StatusServiceUnavailable, "recovery secret not configured")
			return
		}
		if !secretMatches(bearerToken(r), s.cronSecret) && !secretMatches(r.Header.Get("X-Cron-Secret"), s.cronSecret) {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func secretMatches(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
