package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const loggerKey contextKey = "logger"

// WithContext returns a copy of ctx carrying logger.
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	return FromContextOr(ctx, Default())
}

// FromContextOr retrieves the logger stored in ctx, or fallback.
func FromContextOr(ctx context.Context, fallback *Logger) *Logger {
	logger, ok := ctx.Value(loggerKey).(*Logger)
	if !ok || logger == nil {
		return fallback
	}
	return logger
}

// Middleware attaches a request-scoped logger to the request context and logs
// each completed request.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestLogger := logger.With(Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			})

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(WithContext(r.Context(), requestLogger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			requestLogger.Debug("request completed", Fields{
				"status":   status,
				"duration": time.Since(start),
			})
		})
	}
}
