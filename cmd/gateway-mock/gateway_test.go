package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"travel-booking/internal/gateway"
	"travel-booking/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyID     = "rzp_test_key"
	keySecret = "rzp_test_secret"
)

func doRequest(t *testing.T, h http.Handler, method, path, body string, prepare func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if prepare != nil {
		prepare(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func authorized(idempotencyKey string) func(*http.Request) {
	return func(r *http.Request) {
		r.SetBasicAuth(keyID, keySecret)
		if idempotencyKey != "" {
			r.Header.Set("X-Idempotency-Key", idempotencyKey)
		}
	}
}

func TestMockGateway_CreateOrderAndPay(t *testing.T) {
	h := newMockGateway(keyID, keySecret, slog.Default()).routes()

	rec := doRequest(t, h, http.MethodPost, "/v1/orders", `{"amount":10000,"currency":"INR","receipt":"receipt_1"}`, authorized("receipt_1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var order gateway.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.True(t, strings.HasPrefix(order.ID, "order_"))
	assert.Equal(t, int64(10000), order.Amount)
	assert.Equal(t, "created", order.Status)

	rec = doRequest(t, h, http.MethodPost, "/v1/checkout/"+order.ID+"/pay", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var completion PaymentCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completion))
	assert.Equal(t, order.ID, completion.OrderID)
	assert.True(t, signature.Verify(completion.OrderID, completion.PaymentID, completion.Signature, keySecret))

	rec = doRequest(t, h, http.MethodPost, "/v1/checkout/"+order.ID+"/pay", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMockGateway_IdempotentReplay(t *testing.T) {
	h := newMockGateway(keyID, keySecret, slog.Default()).routes()
	body := `{"amount":10000,"currency":"INR","receipt":"receipt_1"}`

	first := doRequest(t, h, http.MethodPost, "/v1/orders", body, authorized("receipt_1"))
	second := doRequest(t, h, http.MethodPost, "/v1/orders", body, authorized("receipt_1"))
	third := doRequest(t, h, http.MethodPost, "/v1/orders", body, authorized("receipt_2"))

	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.NotEqual(t, first.Body.String(), third.Body.String())
}

func TestMockGateway_Rejections(t *testing.T) {
	h := newMockGateway(keyID, keySecret, slog.Default()).routes()

	rec := doRequest(t, h, http.MethodPost, "/v1/orders", `{"amount":10000,"currency":"INR"}`, func(r *http.Request) {
		r.SetBasicAuth(keyID, "wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/orders", `{"amount":50,"currency":"INR"}`, authorized(""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/checkout/order_missing/pay", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMockGateway_NotificationSink(t *testing.T) {
	g := newMockGateway(keyID, keySecret, slog.Default())
	h := g.routes()

	for i := 0; i < 2; i++ {
		rec := doRequest(t, h, http.MethodPost, "/hooks/payments", `{"id":"evt-1","event":"payment.verified"}`, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.Equal(t, 2, g.seenEvents["evt-1"])
}
