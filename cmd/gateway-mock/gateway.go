package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"travel-booking/internal/gateway"
	"travel-booking/internal/signature"

	"github.com/go-chi/chi/v5"
)

const (
	contentType = "application/json"
	idAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	idLength    = 14
)

type errorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type ErrorResponse struct {
	Error errorBody `json:"error"`
}

type PaymentCompletion struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// mockGateway imitates the order and checkout endpoints of the payment
// gateway with in-memory state.
type mockGateway struct {
	keyID     string
	keySecret string
	logger    *slog.Logger

	mu         sync.Mutex
	orders     map[string]*gateway.Order
	byReceipt  map[string]string
	seenEvents map[string]int
}

func newMockGateway(keyID, keySecret string, logger *slog.Logger) *mockGateway {
	return &mockGateway{
		keyID:      keyID,
		keySecret:  keySecret,
		logger:     logger,
		orders:     make(map[string]*gateway.Order),
		byReceipt:  make(map[string]string),
		seenEvents: make(map[string]int),
	}
}

func (g *mockGateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(g.loggingMiddleware)
	r.Use(g.countMiddleware)

	r.With(g.basicAuth).Post("/v1/orders", g.createOrder)
	r.With(g.basicAuth).Get("/v1/orders/{orderID}", g.getOrder)
	r.Post("/v1/checkout/{orderID}/pay", g.pay)
	r.Post("/hooks/payments", g.receiveNotification)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGatewayError(w http.ResponseWriter, status int, description string) {
	writeJSON(w, status, ErrorResponse{Error: errorBody{Code: "BAD_REQUEST_ERROR", Description: description}})
}

func (g *mockGateway) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyID, keySecret, ok := r.BasicAuth()
		if !ok || keyID != g.keyID || subtle.ConstantTimeCompare([]byte(keySecret), []byte(g.keySecret)) != 1 {
			writeGatewayError(w, http.StatusUnauthorized, "Authentication failed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *mockGateway) createOrder(w http.ResponseWriter, r *http.Request) {
	var req gateway.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Amount < 100 {
		writeGatewayError(w, http.StatusBadRequest, "Order amount less than minimum amount allowed")
		return
	}
	if req.Currency == "" {
		writeGatewayError(w, http.StatusBadRequest, "The currency field is required")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	if existingID, ok := g.byReceipt[idempotencyKey]; ok && idempotencyKey != "" {
		g.logger.InfoContext(r.Context(), "Replaying order for idempotency key", "orderId", existingID)
		writeJSON(w, http.StatusOK, g.orders[existingID])
		return
	}

	order := &gateway.Order{
		ID:        "order_" + randomID(),
		Entity:    "order",
		Amount:    req.Amount,
		AmountDue: req.Amount,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
		CreatedAt: time.Now().Unix(),
	}
	g.orders[order.ID] = order
	if idempotencyKey != "" {
		g.byReceipt[idempotencyKey] = order.ID
	}

	writeJSON(w, http.StatusOK, order)
}

func (g *mockGateway) getOrder(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	order, ok := g.orders[chi.URLParam(r, "orderID")]
	g.mu.Unlock()
	if !ok {
		writeGatewayError(w, http.StatusNotFound, "The id provided does not exist")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// pay completes the checkout for an order and returns what the checkout
// widget would hand to the client.
func (g *mockGateway) pay(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		writeGatewayError(w, http.StatusNotFound, "The id provided does not exist")
		return
	}
	if order.Status == "paid" {
		writeGatewayError(w, http.StatusBadRequest, "Order is already paid")
		return
	}

	order.Attempts++
	order.Status = "paid"
	order.AmountPaid = order.Amount
	order.AmountDue = 0

	paymentID := "pay_" + randomID()
	writeJSON(w, http.StatusOK, PaymentCompletion{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: signature.Sign(orderID, paymentID, g.keySecret),
	})
}

func (g *mockGateway) receiveNotification(w http.ResponseWriter, r *http.Request) {
	var event struct {
		ID    string `json:"id"`
		Event string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.seenEvents[event.ID]++
	deliveries := g.seenEvents[event.ID]
	g.mu.Unlock()

	if deliveries > 1 {
		g.logger.WarnContext(r.Context(), "Duplicate notification", "eventId", event.ID, "deliveries", deliveries)
	} else {
		g.logger.InfoContext(r.Context(), "Notification received", "eventId", event.ID, "event", event.Event)
	}
	w.WriteHeader(http.StatusNoContent)
}

func randomID() string {
	b := make([]byte, idLength)
	alphabetSize := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			panic(err)
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}
