package middleware

import (
	"net/http"
	"regexp"

	"github.com/golang-jwt/jwt/v5"
)

var bearerRegex = regexp.MustCompile(`^Bearer (.+)$`)

// HookAuthenticator is middleware that checks login hooks are signed with
// the shared hook secret (HS256). With no secret configured every request
// passes.
type HookAuthenticator struct {
	secret func() string
}

// NewHookAuthenticator creates the middleware. secret is read per request
// so a configuration reload takes effect immediately.
func NewHookAuthenticator(secret func() string) *HookAuthenticator {
	return &HookAuthenticator{secret: secret}
}

// Middleware returns an HTTP middleware that validates hook tokens
func (h *HookAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := h.secret()
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if len(authHeader) == 0 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("Authorization missing"))
			return
		}

		matches := bearerRegex.FindStringSubmatch(authHeader)
		if len(matches) != 2 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("Malformed authorization header"))
			return
		}

		_, err := jwt.Parse(matches[1], func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("Invalid signature"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
