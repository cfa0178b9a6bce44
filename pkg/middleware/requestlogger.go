package middleware

import (
	"log/slog"
	"net/http"

	"github.com/carebridge/identity/pkg/logger"
)

// RequestLogger stores a request-scoped logger (enriched with
// correlation_id, user_id, trace_id, span_id) in the context so handlers can
// pull it back out with logger.FromContext.
//
// Mount after RequestLogging (correlation ID) and Tracing (span context).
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if userID := UserIDFromContext(ctx); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}

			enriched := logger.WithContext(ctx, base)
			ctx = logger.NewContext(ctx, enriched)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
