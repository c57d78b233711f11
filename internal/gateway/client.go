package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"travel-booking/internal/config"

	"github.com/VictoriaMetrics/metrics"
	pkgerrors "github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const (
	ordersPath        = "/v1/orders"
	idempotencyHeader = "X-Idempotency-Key"

	defaultTimeoutMs    = 10_000
	defaultRetryDelayMs = 200
)

var (
	orderSuccessCounter    = metrics.GetOrCreateCounter(`gateway_orders_total{result="success"}`)
	orderFailedCounter     = metrics.GetOrCreateCounter(`gateway_orders_total{result="failed"}`)
	orderRetriedCounter    = metrics.GetOrCreateCounter(`gateway_orders_total{result="retried"}`)
	orderDurationHistogram = metrics.GetOrCreateHistogram(`gateway_order_duration_milliseconds`)
)

// transportError marks failures where no gateway answer was received.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

type Client struct {
	client      *http.Client
	baseURL     string
	keyID       string
	keySecret   string
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

func NewClient(cfg config.Gateway, logger *slog.Logger) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	retryDelayMs := cfg.RetryDelayMs
	if retryDelayMs <= 0 {
		retryDelayMs = defaultRetryDelayMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Client{
		client:      &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		keyID:       cfg.KeyID,
		keySecret:   cfg.KeySecret,
		maxAttempts: maxAttempts,
		retryDelay:  time.Duration(retryDelayMs) * time.Millisecond,
		logger:      logger,
	}
}

// CreateOrder reserves an order with the gateway. Network failures, 429 and
// 5xx answers are retried up to the configured number of attempts; every
// attempt carries the receipt as idempotency key.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	startTime := time.Now()
	defer func() {
		orderDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "marshal order request")
	}

	backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.retryDelay))

	var (
		order   *Order
		attempt int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		o, err := c.createOrder(ctx, body, req.Receipt)
		if err != nil {
			if isRetryable(err) && attempt < c.maxAttempts {
				c.logger.WarnContext(ctx, "Retrying gateway order creation", "attempt", attempt, "error", err)
				orderRetriedCounter.Inc()
				return retry.RetryableError(err)
			}
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		orderFailedCounter.Inc()
		return nil, err
	}

	orderSuccessCounter.Inc()
	return order, nil
}

func (c *Client) createOrder(ctx context.Context, body []byte, idempotencyKey string) (*Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ordersPath, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create order request")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transportError{err: pkgerrors.Wrap(err, "send order request")}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read order response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			statusErr.Code = errResp.Error.Code
			statusErr.Description = errResp.Error.Description
		}
		return nil, statusErr
	}

	var order Order
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, pkgerrors.Wrap(err, "decode order response")
	}
	if order.ID == "" {
		return nil, errors.New("gateway returned an order without id")
	}

	return &order, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var transportErr *transportError
	return errors.As(err, &transportErr)
}
