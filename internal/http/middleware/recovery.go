package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/vidinfra/metaview/internal/observability"
)

// Recovery converts handler panics into 500 responses and logs the stack.
// The request-scoped logger installed by Logging is used when present.
func Recovery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					observability.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "panic recovered",
						slog.Any("error", err),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
					)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
