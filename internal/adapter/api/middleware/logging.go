package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type logFieldsKey struct{}

// logFields collects attributes set by inner middleware so the access log can report them.
type logFields struct {
	mu     sync.Mutex
	tenant string
}

// annotateTenant records the resolved tenant for the access log line.
func annotateTenant(ctx context.Context, tenant string) {
	if f, ok := ctx.Value(logFieldsKey{}).(*logFields); ok {
		f.mu.Lock()
		f.tenant = tenant
		f.mu.Unlock()
	}
}

// Logging is a middleware factory that logs HTTP requests.
// The wrapped writer keeps http.Flusher and http.Hijacker so streaming and
// websocket handlers work behind it.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := &logFields{}
			r = r.WithContext(context.WithValue(r.Context(), logFieldsKey{}, fields))

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			fields.mu.Lock()
			tenant := fields.tenant
			fields.mu.Unlock()

			logger.Info("handled request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"request_id", chimw.GetReqID(r.Context()),
				"tenant", tenant,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
