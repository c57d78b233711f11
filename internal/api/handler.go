package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"travel-booking/internal/apperror"
	"travel-booking/internal/auth"
	"travel-booking/internal/db"
	"travel-booking/internal/gateway"
	"travel-booking/internal/idempotency"
	"travel-booking/internal/payment"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

type PaymentService interface {
	CreateOrder(ctx context.Context) (*gateway.Order, error)
	Verify(ctx context.Context, in payment.VerifyInput) (*payment.VerifyResult, error)
	Status(ctx context.Context, orderID string) (*db.PaymentEntity, error)
	Checkout() payment.Checkout
	RecentPayments(ctx context.Context, limit int) ([]*db.PaymentEntity, error)
	PaymentsForPayer(ctx context.Context, email string, limit int) ([]*db.PaymentEntity, error)
}

type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (string, error)
	Complete(ctx context.Context, key, result string) error
	Release(ctx context.Context, key string) error
}

type createOrderResponse struct {
	OrderID string `json:"orderid"`
}

type payerRequest struct {
	Name  string `json:"name" validate:"omitempty,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

// verifyRequest leaves Payer out of struct validation: payer details are
// informational and must never block recording a paid order.
type verifyRequest struct {
	OrderID   string        `json:"razorpay_order_id" validate:"required"`
	PaymentID string        `json:"razorpay_payment_id" validate:"required"`
	Signature string        `json:"razorpay_signature" validate:"required"`
	Payer     *payerRequest `json:"payer" validate:"-"`
}

type statusResponse struct {
	OrderID string           `json:"orderId"`
	Status  db.PaymentStatus `json:"status"`
}

type profileResponse struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
}

type Handler struct {
	service     PaymentService
	idempotency IdempotencyStore
	ready       func(ctx context.Context) error
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewHandler(service PaymentService, idem IdempotencyStore, ready func(ctx context.Context) error, logger *slog.Logger) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		service:     service,
		idempotency: idem,
		ready:       ready,
		validate:    validate,
		logger:      logger,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	useIdempotency := h.idempotency != nil && key != ""

	if useIdempotency {
		cached, err := h.idempotency.Reserve(ctx, key)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			writeError(w, r, h.logger, apperror.Conflict("Request is already in progress"))
			return
		case err != nil:
			h.logger.WarnContext(ctx, "Idempotency store unavailable, continuing without it", "error", err)
			useIdempotency = false
		case cached != "":
			h.logger.InfoContext(ctx, "Replaying order for idempotency key", "orderId", cached)
			writeJSON(w, http.StatusOK, createOrderResponse{OrderID: cached})
			return
		}
	}

	order, err := h.service.CreateOrder(ctx)
	if err != nil {
		if useIdempotency {
			if err := h.idempotency.Release(ctx, key); err != nil {
				h.logger.WarnContext(ctx, "Error releasing idempotency key", "error", err)
			}
		}
		writeError(w, r, h.logger, err)
		return
	}

	if useIdempotency {
		if err := h.idempotency.Complete(ctx, key, order.ID); err != nil {
			h.logger.WarnContext(ctx, "Error storing idempotency result", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, createOrderResponse{OrderID: order.ID})
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, h.logger, apperror.Internal("Payment verification failed", err))
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentID = strings.TrimSpace(req.PaymentID)

	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.logger, validationError(err))
		return
	}

	in := payment.VerifyInput{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	}
	if req.Payer != nil {
		in.Payer = h.payer(r.Context(), req.Payer)
	}

	result, err := h.service.Verify(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if result.AlreadyVerified {
		writeJSON(w, http.StatusOK, Response{Success: true, Message: "Payment already verified"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Payment verified successfully"})
}

// payer keeps the payer fields that pass validation and drops the rest.
func (h *Handler) payer(ctx context.Context, req *payerRequest) payment.Payer {
	err := h.validate.Struct(req)
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return payment.Payer{Name: req.Name, Email: req.Email, Phone: req.Phone}
	}

	for _, fe := range validationErrs {
		h.logger.WarnContext(ctx, "Dropping invalid payer field", "field", fe.Field(), "tag", fe.Tag())
		switch fe.StructField() {
		case "Name":
			req.Name = ""
		case "Email":
			req.Email = ""
		case "Phone":
			req.Phone = ""
		}
	}
	return payment.Payer{Name: req.Name, Email: req.Email, Phone: req.Phone}
}

func validationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return apperror.Validation("Invalid request body")
	}

	var missing, invalid []string
	for _, fe := range validationErrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, fe.Field())
		}
	}
	if len(missing) > 0 {
		return apperror.Validation("Missing required fields: " + strings.Join(missing, ", "))
	}
	return apperror.Validation("Invalid fields: " + strings.Join(invalid, ", "))
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	entity, err := h.service.Status(r.Context(), orderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OrderID: entity.GatewayOrderID, Status: entity.Status})
}

func (h *Handler) paymentPage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Checkout())
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Internal("Internal server error", errors.New("claims missing from context")))
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Role:    claims.Role,
	})
}

func (h *Handler) dashboardPayments(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Internal("Internal server error", errors.New("claims missing from context")))
		return
	}
	payments, err := h.service.PaymentsForPayer(r.Context(), claims.Email, queryLimit(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) adminPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.RecentPayments(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "Readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}
