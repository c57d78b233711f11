package api

import (
	"context"
	"log/slog"
	"net/http"

	"travel-booking/internal/auth"
	"travel-booking/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

type Deps struct {
	Service        PaymentService
	Gate           *auth.Gate
	Idempotency    IdempotencyStore
	Ready          func(ctx context.Context) error
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewRouter(deps Deps) http.Handler {
	h := NewHandler(deps.Service, deps.Idempotency, deps.Ready, deps.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(deps.Gate.Middleware)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/create-order", h.createOrder)
	r.Post("/verify-payment", h.verifyPayment)
	r.Post("/verify-razorpay-payment", h.verifyPayment)
	r.Get("/payments/{orderID}", h.paymentStatus)

	r.Get("/payment-page", h.paymentPage)
	r.Get("/profile", h.profile)
	r.Get("/dashboard/payments", h.dashboardPayments)
	r.Get("/admin/payments", h.adminPayments)

	// an empty origin list would make cors allow every origin
	if len(deps.AllowedOrigins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", idempotencyKeyHeader},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
