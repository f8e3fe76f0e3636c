package control

import (
	"net/http"

	"github.com/tunnelforge/tunneld/internal/middleware"
)

// RequireOperatorKey wraps middleware.RequireAPIKey with the name
// this package's callers expect: a missing header is rejected as 401
// Unauthorized, a present-but-wrong header as 403 Forbidden.
func RequireOperatorKey(headerName, expected string, next http.Handler) http.Handler {
	return middleware.RequireAPIKey(headerName, expected, next)
}
