package api

import (
	"log/slog"
	"net/http"
	"time"

	"travel-booking/internal/logging"
	"travel-booking/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// observe continues the caller's trace, tags the request context with the
// request id and records the outcome of every request in the log and in the
// http metrics.
func observe(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx = logging.AppendCtx(ctx, slog.String("requestId", middleware.GetReqID(ctx)))
			r = r.WithContext(ctx)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			duration := time.Since(startTime)
			metrics.ObserveRequest(route, r.Method, status, duration)
			logger.InfoContext(ctx, "Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"durationMs", duration.Milliseconds())
		})
	}
}
