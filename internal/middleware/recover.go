package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/DukeRupert/picscribe/internal/handler"
)

// RecoverMiddleware turns handler panics into the generic 500 response.
type RecoverMiddleware struct {
	logger *slog.Logger
}

// NewRecoverMiddleware creates a new recover middleware.
func NewRecoverMiddleware(logger *slog.Logger) *RecoverMiddleware {
	return &RecoverMiddleware{
		logger: logger,
	}
}

// Handler returns middleware that recovers from panics in next.
func (m *RecoverMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// Let the server abort the connection as it normally would.
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			m.logger.Error("panic recovered",
				"panic", rec,
				"path", r.URL.Path,
				"method", r.Method,
				"request_id", RequestIDFromContext(r.Context()),
				"stack", string(debug.Stack()),
			)
			handler.InternalErrorResponse(w, r, m.logger, fmt.Errorf("panic: %v", rec))
		}()

		next.ServeHTTP(w, r)
	})
}
