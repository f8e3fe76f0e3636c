// Package middleware holds HTTP middleware shared by the control
// plane: a shared-secret header check in place of a full identity
// provider, since operators authenticate with a single static key.
package middleware

import "net/http"

// RequireAPIKey enforces a shared-secret header: a missing header is
// rejected as 401 Unauthorized, a present but wrong one as 403
// Forbidden. header is the configured header name (default
// "x-api-key").
func RequireAPIKey(header, expected string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if got == "" {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+header+" header")
			return
		}
		if got != expected {
			writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "invalid "+header+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + kind + `","message":"` + message + `"}`))
}
