package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"travel-booking/internal/apperror"
	"travel-booking/internal/config"
	"travel-booking/internal/db"
	"travel-booking/internal/gateway"
	"travel-booking/internal/logging"
	"travel-booking/internal/message"
	"travel-booking/internal/signature"
	"travel-booking/internal/tracing"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	receiptPrefix    = "receipt_"
	defaultListLimit = 50
	maxListLimit     = 500
)

var (
	verifySuccessCounter   = metrics.GetOrCreateCounter(`payment_verifications_total{result="verified"}`)
	verifyDuplicateCounter = metrics.GetOrCreateCounter(`payment_verifications_total{result="duplicate"}`)
	verifyMismatchCounter  = metrics.GetOrCreateCounter(`payment_verifications_total{result="invalid_signature"}`)
	verifyFailedCounter    = metrics.GetOrCreateCounter(`payment_verifications_total{result="failed"}`)

	orderCreatedCounter = metrics.GetOrCreateCounter(`payment_orders_total{result="created"}`)
	orderFailedCounter  = metrics.GetOrCreateCounter(`payment_orders_total{result="failed"}`)
)

// currencies without a minor unit
var zeroDecimalCurrencies = map[string]bool{"JPY": true, "KRW": true, "VND": true}

type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
}

type Repository interface {
	SaveWithEvent(ctx context.Context, payment *db.PaymentEntity, event *db.PaymentEventEntity) error
	GetByGatewayOrderID(ctx context.Context, orderID string) (*db.PaymentEntity, error)
	ListRecent(ctx context.Context, limit int) ([]*db.PaymentEntity, error)
	ListByPayerEmail(ctx context.Context, email string, limit int) ([]*db.PaymentEntity, error)
}

type Payer struct {
	Name  string
	Email string
	Phone string
}

type VerifyInput struct {
	OrderID   string
	PaymentID string
	Signature string
	Payer     Payer
}

type VerifyResult struct {
	Payment         *db.PaymentEntity
	AlreadyVerified bool
}

// Checkout is what the payment page needs to render the pay button.
type Checkout struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

type Service struct {
	gateway  Gateway
	repo     Repository
	amount   int64
	display  string
	currency string
	secret   string
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewService(gw Gateway, repo Repository, cfg config.Payment, secret string, logger *slog.Logger) (*Service, error) {
	currency := strings.ToUpper(cfg.Currency)
	amount, err := minorUnits(cfg.OrderAmount, currency)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, errors.New("gateway key secret must not be empty")
	}

	return &Service{
		gateway:  gw,
		repo:     repo,
		amount:   amount,
		display:  cfg.OrderAmount,
		currency: currency,
		secret:   secret,
		tracer:   otel.Tracer("travel-booking/payment"),
		logger:   logger,
	}, nil
}

// minorUnits converts a major-unit decimal string into the smallest currency
// unit, rejecting fractions the currency cannot represent.
func minorUnits(major, currency string) (int64, error) {
	value, err := decimal.NewFromString(major)
	if err != nil {
		return 0, fmt.Errorf("invalid order amount %q: %w", major, err)
	}
	exponent := int32(2)
	if zeroDecimalCurrencies[currency] {
		exponent = 0
	}
	minor := value.Shift(exponent)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("order amount %q has more precision than %s supports", major, currency)
	}
	if !minor.IsPositive() {
		return 0, fmt.Errorf("order amount %q must be positive", major)
	}
	return minor.IntPart(), nil
}

func (s *Service) Checkout() Checkout {
	return Checkout{Amount: s.amount, Currency: s.currency, Display: s.display}
}

// CreateOrder reserves a new gateway order for the configured amount. The
// order is not stored locally.
func (s *Service) CreateOrder(ctx context.Context) (*gateway.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	receipt := receiptPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	ctx = logging.AppendCtx(ctx, slog.String("receipt", receipt))

	s.logger.InfoContext(ctx, "Creating gateway order", "amount", s.amount, "currency", s.currency)
	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   s.amount,
		Currency: s.currency,
		Receipt:  receipt,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating gateway order", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway order failed")
		orderFailedCounter.Inc()
		return nil, apperror.Upstream("Failed to create order", err)
	}

	span.SetAttributes(attribute.String("payment.order_id", order.ID))
	s.logger.InfoContext(ctx, "Gateway order created", "orderId", order.ID)
	orderCreatedCounter.Inc()
	return order, nil
}

// Verify checks the gateway signature and records the payment as paid. A
// mismatching signature is rejected without touching storage. Verifying the
// same gateway order or payment twice is reported as AlreadyVerified.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "VerifyPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.order_id", in.OrderID),
		attribute.String("payment.payment_id", in.PaymentID),
	)

	if missing := missingFields(in); len(missing) > 0 {
		return nil, apperror.Validation("Missing required fields: " + strings.Join(missing, ", "))
	}

	ctx = logging.AppendCtx(ctx, slog.String("orderId", in.OrderID), slog.String("paymentId", in.PaymentID))
	s.logger.InfoContext(ctx, "Verifying payment signature", "status", db.PaymentStatusAttempted)

	if !signature.Verify(in.OrderID, in.PaymentID, in.Signature, s.secret) {
		s.logger.WarnContext(ctx, "Payment signature mismatch")
		span.SetStatus(codes.Error, "invalid signature")
		verifyMismatchCounter.Inc()
		return nil, apperror.Integrity("Invalid signature")
	}

	now := time.Now().UTC()
	entity := &db.PaymentEntity{
		ID:               uuid.New(),
		GatewayOrderID:   in.OrderID,
		GatewayPaymentID: in.PaymentID,
		Signature:        in.Signature,
		Amount:           s.amount,
		Currency:         s.currency,
		Status:           db.PaymentStatusPaid,
		PayerName:        optional(in.Payer.Name),
		PayerEmail:       optional(strings.ToLower(in.Payer.Email)),
		PayerPhone:       optional(in.Payer.Phone),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	event, err := s.verifiedEvent(ctx, entity)
	if err != nil {
		verifyFailedCounter.Inc()
		return nil, apperror.Internal("Payment verification failed", err)
	}

	err = s.repo.SaveWithEvent(ctx, entity, event)
	if errors.Is(err, db.ErrDuplicatePayment) {
		s.logger.InfoContext(ctx, "Payment already verified")
		verifyDuplicateCounter.Inc()
		return &VerifyResult{AlreadyVerified: true}, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving payment", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		verifyFailedCounter.Inc()
		return nil, apperror.Internal("Payment verification failed", err)
	}

	s.logger.InfoContext(ctx, "Payment verified", "status", entity.Status, "id", entity.ID)
	verifySuccessCounter.Inc()
	return &VerifyResult{Payment: entity}, nil
}

func (s *Service) verifiedEvent(ctx context.Context, entity *db.PaymentEntity) (*db.PaymentEventEntity, error) {
	event := message.PaymentEvent{
		ID:    uuid.New(),
		Event: message.EventPaymentVerified,
		Payload: message.Payment{
			ID:               entity.ID,
			GatewayOrderID:   entity.GatewayOrderID,
			GatewayPaymentID: entity.GatewayPaymentID,
			Amount:           entity.Amount,
			Currency:         entity.Currency,
			Status:           string(entity.Status),
			PayerName:        deref(entity.PayerName),
			PayerEmail:       deref(entity.PayerEmail),
			CreatedAt:        entity.CreatedAt,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	scheduledAt := entity.CreatedAt
	return &db.PaymentEventEntity{
		ID:          event.ID,
		PaymentID:   entity.ID,
		Type:        event.Event,
		Payload:     string(payload),
		Traceparent: optional(tracing.Traceparent(ctx)),
		CreatedAt:   entity.CreatedAt,
		ScheduledAt: &scheduledAt,
	}, nil
}

func (s *Service) Status(ctx context.Context, orderID string) (*db.PaymentEntity, error) {
	entity, err := s.repo.GetByGatewayOrderID(ctx, orderID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperror.NotFound("Payment not found")
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error loading payment", "orderId", orderID, "error", err)
		return nil, apperror.Internal("Failed to load payment", err)
	}
	return entity, nil
}

func (s *Service) RecentPayments(ctx context.Context, limit int) ([]*db.PaymentEntity, error) {
	payments, err := s.repo.ListRecent(ctx, clampLimit(limit))
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing payments", "error", err)
		return nil, apperror.Internal("Failed to list payments", err)
	}
	return payments, nil
}

func (s *Service) PaymentsForPayer(ctx context.Context, email string, limit int) ([]*db.PaymentEntity, error) {
	if email == "" {
		return []*db.PaymentEntity{}, nil
	}
	payments, err := s.repo.ListByPayerEmail(ctx, strings.ToLower(email), clampLimit(limit))
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing payer payments", "error", err)
		return nil, apperror.Internal("Failed to list payments", err)
	}
	return payments, nil
}

func missingFields(in VerifyInput) []string {
	var missing []string
	if in.OrderID == "" {
		missing = append(missing, "razorpay_order_id")
	}
	if in.PaymentID == "" {
		missing = append(missing, "razorpay_payment_id")
	}
	if in.Signature == "" {
		missing = append(missing, "razorpay_signature")
	}
	return missing
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
