// Package middleware contains HTTP middleware for the picscribe API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/picscribe/internal/auth"
	"github.com/DukeRupert/picscribe/internal/handler"
)

// LocalDevSubject is the user every request runs as when auth is disabled.
const LocalDevSubject = "local-dev"

// TokenVerifier turns a bearer token into verified claims.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// =============================================================================
// Auth Middleware Configuration
// =============================================================================

// AuthMiddleware provides bearer token authentication.
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *slog.Logger
	disabled bool
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
//
// When disabled is true every request is treated as the LocalDevSubject user
// and verifier may be nil. Only use this for local development.
func NewAuthMiddleware(verifier TokenVerifier, logger *slog.Logger, disabled bool) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
		disabled: disabled,
	}
}

// =============================================================================
// RequireUser Middleware
// =============================================================================

// RequireUser is middleware that rejects requests without a valid bearer
// token with 401 and stores the verified claims in the request context.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			claims := &auth.Claims{
				Subject: LocalDevSubject,
				Issuer:  "local",
				Raw:     map[string]any{"sub": LocalDevSubject},
			}
			next.ServeHTTP(w, r.WithContext(auth.SetClaims(r.Context(), claims)))
			return
		}

		if m.verifier == nil {
			m.logger.Error("auth verifier not configured")
			handler.UnauthorizedResponse(w, r, m.logger, "Authentication is not configured")
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			handler.UnauthorizedResponse(w, r, m.logger, "Missing authorization header")
			return
		}

		token, ok := extractBearerToken(header)
		if !ok {
			handler.UnauthorizedResponse(w, r, m.logger, "Invalid authorization header")
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Info("token verification failed",
				"path", r.URL.Path,
				"error", err,
			)
			handler.UnauthorizedResponse(w, r, m.logger, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetClaims(r.Context(), claims)))
	})
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// =============================================================================
// Middleware Stack Helper
// =============================================================================

// Stack creates a middleware stack from multiple middleware functions.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(recoverMw.Handler, loggingMw.Handler, metrics.Middleware)
//	server := &http.Server{Handler: stack(mux)}
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
