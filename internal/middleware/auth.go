package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminKey guards operational endpoints. With no key configured the routes
// stay open (single-operator deployments); otherwise the request must carry
// the key in X-Admin-Key or as a bearer token.
func AdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-Admin-Key")
			if presented == "" {
				presented = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if presented == "" {
				http.Error(w, "missing admin key", http.StatusUnauthorized)
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				http.Error(w, "invalid admin key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
