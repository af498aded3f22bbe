package auth

import (
	"net/http"
	"strings"
)

// Middleware validates bearer tokens on ops endpoints. Paths registered as
// exempt (health and metrics probes) pass through untouched.
type Middleware struct {
	secret []byte
	exempt map[string]struct{}
}

// NewMiddleware constructs an auth middleware with the given exempt paths.
func NewMiddleware(secret []byte, exemptPaths ...string) *Middleware {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}
	return &Middleware{secret: secret, exempt: exempt}
}

// Wrap applies auth to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearer(r)
		if _, err := ParseJWT(token, m.secret); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
