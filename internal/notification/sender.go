package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"travel-booking/internal/config"

	"github.com/VictoriaMetrics/metrics"
	pkgerrors "github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeoutMs    = 10_000
	defaultRetryDelayMs = 1_000
	maxLoggedBodyBytes  = 512

	eventTypeHeader = "X-Event-Type"
	eventIDHeader   = "X-Event-Id"
)

var (
	sendSuccessCounter = metrics.GetOrCreateCounter(`notification_sender_total{result="success"}`)
	sendRetryCounter   = metrics.GetOrCreateCounter(`notification_sender_total{result="retried"}`)
	sendFailedCounter  = metrics.GetOrCreateCounter(`notification_sender_total{result="failed"}`)

	sendDurationHistogram = metrics.GetOrCreateHistogram(`notification_sender_duration_milliseconds`)
)

// statusError is a non-2xx answer from the notification endpoint.
type statusError struct {
	statusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("notification endpoint responded %d", e.statusCode)
}

type Sender struct {
	client      *http.Client
	url         string
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

func NewSender(cfg config.Notification, logger *slog.Logger) *Sender {
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

	return &Sender{
		client:      &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		url:         cfg.URL,
		maxAttempts: maxAttempts,
		retryDelay:  time.Duration(retryDelayMs) * time.Millisecond,
		logger:      logger,
	}
}

// Send posts payload to the notification endpoint, retrying transport
// failures, 429 and 5xx answers.
func (s *Sender) Send(ctx context.Context, eventID, eventType string, payload []byte) error {
	startTime := time.Now()
	defer func() {
		sendDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.NewExponential(s.retryDelay))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.send(ctx, eventID, eventType, payload)
		if err == nil {
			return nil
		}
		var statusErr *statusError
		if errors.As(err, &statusErr) && statusErr.statusCode < 500 && statusErr.statusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt < s.maxAttempts {
			s.logger.WarnContext(ctx, "Retrying notification", "attempt", attempt, "error", err)
			sendRetryCounter.Inc()
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		sendFailedCounter.Inc()
		return err
	}

	sendSuccessCounter.Inc()
	return nil
}

func (s *Sender) send(ctx context.Context, eventID, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(err, "create notification request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventTypeHeader, eventType)
	req.Header.Set(eventIDHeader, eventID)

	resp, err := s.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, "send notification")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBodyBytes))
	if err != nil {
		return pkgerrors.Wrap(err, "read notification response")
	}

	if resp.StatusCode >= 300 {
		s.logger.WarnContext(ctx, "Notification endpoint returned error", "status", resp.StatusCode, "body", string(respBody))
		return &statusError{statusCode: resp.StatusCode}
	}

	s.logger.DebugContext(ctx, "Notification delivered", "status", resp.StatusCode)
	return nil
}
