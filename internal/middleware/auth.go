// Package middleware contains HTTP middleware for the Cardbase API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mingpian/cardbase/internal/handler"
)

// AdminAuthMiddleware protects the admin API with a bearer token.
//
// The configured value is a bcrypt hash of the token, so a leaked
// configuration file does not reveal the token itself.
type AdminAuthMiddleware struct {
	tokenHash string
	logger    *slog.Logger
}

// NewAdminAuthMiddleware creates a new admin auth middleware.
//
// If tokenHash is empty the middleware passes all requests through. This is
// only acceptable in development; config validation rejects an empty hash
// outside of it.
func NewAdminAuthMiddleware(tokenHash string, logger *slog.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		tokenHash: tokenHash,
		logger:    logger,
	}
}

// RequireToken returns middleware that validates the Authorization header.
func (m *AdminAuthMiddleware) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(m.tokenHash), []byte(token)); err != nil {
			m.logger.Warn("admin token rejected", "ip", getClientIP(r))
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// MetricsAuthMiddleware protects the metrics endpoint with basic auth.
//
// If username and password are both empty, requests pass through unprotected.
func MetricsAuthMiddleware(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username == "" && password == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
