package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"travel-booking/internal/apperror"
	"travel-booking/internal/config"
	"travel-booking/internal/db"
	"travel-booking/internal/gateway"
	"travel-booking/internal/message"
	"travel-booking/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "rzp_test_secret"

type fakeGateway struct {
	requests []gateway.OrderRequest
	err      error
}

func (f *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Order{ID: "order_abc", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt}, nil
}

// fakeRepository enforces gateway id uniqueness the way the database does.
type fakeRepository struct {
	mu       sync.Mutex
	payments []*db.PaymentEntity
	events   []*db.PaymentEventEntity
	err      error
}

func (f *fakeRepository) SaveWithEvent(_ context.Context, p *db.PaymentEntity, e *db.PaymentEventEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.payments {
		if existing.GatewayOrderID == p.GatewayOrderID || existing.GatewayPaymentID == p.GatewayPaymentID {
			return db.ErrDuplicatePayment
		}
	}
	f.payments = append(f.payments, p)
	if e != nil {
		f.events = append(f.events, e)
	}
	return nil
}

func (f *fakeRepository) GetByGatewayOrderID(_ context.Context, orderID string) (*db.PaymentEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.payments {
		if p.GatewayOrderID == orderID {
			return p, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeRepository) ListRecent(_ context.Context, limit int) ([]*db.PaymentEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payments) < limit {
		limit = len(f.payments)
	}
	return f.payments[:limit], f.err
}

func (f *fakeRepository) ListByPayerEmail(_ context.Context, email string, _ int) ([]*db.PaymentEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.PaymentEntity
	for _, p := range f.payments {
		if p.PayerEmail != nil && *p.PayerEmail == email {
			out = append(out, p)
		}
	}
	return out, f.err
}

func newService(t *testing.T, gw Gateway, repo Repository) *Service {
	t.Helper()
	svc, err := NewService(gw, repo, config.Payment{OrderAmount: "100", Currency: "INR"}, testSecret, slog.Default())
	require.NoError(t, err)
	return svc
}

func validInput() VerifyInput {
	return VerifyInput{
		OrderID:   "order_abc",
		PaymentID: "pay_xyz",
		Signature: signature.Sign("order_abc", "pay_xyz", testSecret),
		Payer:     Payer{Name: "Asha", Email: "Asha@Example.com"},
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		major    string
		currency string
		expected int64
		wantErr  bool
	}{
		{major: "100", currency: "INR", expected: 10000},
		{major: "250.50", currency: "INR", expected: 25050},
		{major: "1500", currency: "JPY", expected: 1500},
		{major: "10.005", currency: "INR", wantErr: true},
		{major: "0", currency: "INR", wantErr: true},
		{major: "-5", currency: "INR", wantErr: true},
		{major: "ten", currency: "INR", wantErr: true},
		{major: "1.5", currency: "JPY", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.major+"_"+tt.currency, func(t *testing.T) {
			got, err := minorUnits(tt.major, tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewService_RejectsEmptySecret(t *testing.T) {
	_, err := NewService(&fakeGateway{}, &fakeRepository{}, config.Payment{OrderAmount: "100", Currency: "INR"}, "", slog.Default())
	assert.Error(t, err)
}

func TestService_CreateOrder(t *testing.T) {
	gw := &fakeGateway{}
	repo := &fakeRepository{}
	svc := newService(t, gw, repo)

	order, err := svc.CreateOrder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.ID)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, int64(10000), req.Amount)
	assert.Equal(t, "INR", req.Currency)
	assert.True(t, strings.HasPrefix(req.Receipt, "receipt_"))
	assert.LessOrEqual(t, len(req.Receipt), 40)

	assert.Empty(t, repo.payments, "order creation must not persist anything")
}

func TestService_CreateOrder_FreshReceipts(t *testing.T) {
	gw := &fakeGateway{}
	svc := newService(t, gw, &fakeRepository{})

	_, err := svc.CreateOrder(context.Background())
	require.NoError(t, err)
	_, err = svc.CreateOrder(context.Background())
	require.NoError(t, err)

	require.Len(t, gw.requests, 2)
	assert.NotEqual(t, gw.requests[0].Receipt, gw.requests[1].Receipt)
}

func TestService_CreateOrder_GatewayFailure(t *testing.T) {
	gw := &fakeGateway{err: &gateway.StatusError{StatusCode: http.StatusUnauthorized, Description: "Authentication failed"}}
	svc := newService(t, gw, &fakeRepository{})

	order, err := svc.CreateOrder(context.Background())
	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, http.StatusBadGateway, apperror.StatusCode(err))
	assert.Equal(t, "Failed to create order", apperror.Message(err))
}

func TestService_Verify(t *testing.T) {
	repo := &fakeRepository{}
	svc := newService(t, &fakeGateway{}, repo)

	result, err := svc.Verify(context.Background(), validInput())
	require.NoError(t, err)
	assert.False(t, result.AlreadyVerified)

	require.Len(t, repo.payments, 1)
	stored := repo.payments[0]
	assert.Equal(t, "order_abc", stored.GatewayOrderID)
	assert.Equal(t, "pay_xyz", stored.GatewayPaymentID)
	assert.Equal(t, db.PaymentStatusPaid, stored.Status)
	assert.Equal(t, int64(10000), stored.Amount)
	assert.Equal(t, "asha@example.com", *stored.PayerEmail)
	assert.Nil(t, stored.PayerPhone)

	require.Len(t, repo.events, 1)
	event := repo.events[0]
	assert.Equal(t, stored.ID, event.PaymentID)
	assert.Equal(t, message.EventPaymentVerified, event.Type)
	require.NotNil(t, event.ScheduledAt)

	var decoded message.PaymentEvent
	require.NoError(t, json.Unmarshal([]byte(event.Payload), &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "paid", decoded.Payload.Status)
	assert.Equal(t, "order_abc", decoded.Payload.GatewayOrderID)
}

func TestService_Verify_Errors(t *testing.T) {
	tests := []struct {
		name            string
		input           func() VerifyInput
		repoErr         error
		expectedStatus  int
		expectedMessage string
	}{
		{
			name: "MissingPaymentID",
			input: func() VerifyInput {
				in := validInput()
				in.PaymentID = ""
				return in
			},
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "Missing required fields: razorpay_payment_id",
		},
		{
			name: "TamperedSignature",
			input: func() VerifyInput {
				in := validInput()
				in.Signature = signature.Sign("order_abc", "pay_other", testSecret)
				return in
			},
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "Invalid signature",
		},
		{
			name: "SignedWithAnotherSecret",
			input: func() VerifyInput {
				in := validInput()
				in.Signature = signature.Sign("order_abc", "pay_xyz", "other_secret")
				return in
			},
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "Invalid signature",
		},
		{
			name:            "StorageFailure",
			input:           validInput,
			repoErr:         errors.New("connection reset"),
			expectedStatus:  http.StatusInternalServerError,
			expectedMessage: "Payment verification failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepository{err: tt.repoErr}
			svc := newService(t, &fakeGateway{}, repo)

			result, err := svc.Verify(context.Background(), tt.input())
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.expectedStatus, apperror.StatusCode(err))
			assert.Equal(t, tt.expectedMessage, apperror.Message(err))
			assert.NotContains(t, apperror.Message(err), "connection reset")
			assert.Empty(t, repo.payments)
		})
	}
}

func TestService_Verify_Duplicate(t *testing.T) {
	repo := &fakeRepository{}
	svc := newService(t, &fakeGateway{}, repo)

	_, err := svc.Verify(context.Background(), validInput())
	require.NoError(t, err)

	result, err := svc.Verify(context.Background(), validInput())
	require.NoError(t, err)
	assert.True(t, result.AlreadyVerified)
	assert.Len(t, repo.payments, 1)
	assert.Len(t, repo.events, 1)
}

func TestService_Status(t *testing.T) {
	repo := &fakeRepository{}
	svc := newService(t, &fakeGateway{}, repo)

	_, err := svc.Status(context.Background(), "order_abc")
	assert.Equal(t, http.StatusNotFound, apperror.StatusCode(err))

	_, err = svc.Verify(context.Background(), validInput())
	require.NoError(t, err)

	entity, err := svc.Status(context.Background(), "order_abc")
	require.NoError(t, err)
	assert.Equal(t, db.PaymentStatusPaid, entity.Status)
}

func TestService_PaymentsForPayer(t *testing.T) {
	repo := &fakeRepository{}
	svc := newService(t, &fakeGateway{}, repo)

	_, err := svc.Verify(context.Background(), validInput())
	require.NoError(t, err)

	mine, err := svc.PaymentsForPayer(context.Background(), "ASHA@example.com", 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	none, err := svc.PaymentsForPayer(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxListLimit, clampLimit(10_000))
}
