package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"travel-booking/internal/config"
	"travel-booking/internal/kafka"
	"travel-booking/internal/logging"
	"travel-booking/internal/message"
	"travel-booking/internal/tracing"

	"github.com/VictoriaMetrics/metrics"
	pkgerrors "github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const defaultParallelism = 100

var (
	readerMetrics = kafka.NewMetrics("payment_event")

	deliveredCounter = metrics.GetOrCreateCounter(`notification_consumer_total{result="delivered"}`)
	droppedCounter   = metrics.GetOrCreateCounter(`notification_consumer_total{result="dropped"}`)
)

type Notifier interface {
	Send(ctx context.Context, eventID, eventType string, payload []byte) error
}

// Consumer forwards payment events from Kafka to the notification endpoint.
// At most parallelism deliveries run at once; reading blocks while all
// slots are busy.
type Consumer struct {
	notifier Notifier
	sem      chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewConsumer(notifier Notifier, cfg config.Notification, logger *slog.Logger) *Consumer {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Consumer{
		notifier: notifier,
		sem:      make(chan struct{}, parallelism),
		logger:   logger,
	}
}

// Run consumes reader until ctx is done, then waits for in-flight
// deliveries.
func (c *Consumer) Run(ctx context.Context, reader kafka.MessageReader) {
	kafka.ReadMessages(ctx, reader, c.logger, c.Process, readerMetrics)
	c.wg.Wait()
}

func (c *Consumer) Process(ctx context.Context, m kafkago.Message) error {
	var event message.PaymentEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return pkgerrors.Wrap(err, "unmarshal payment event")
	}

	ctx = tracing.ExtractKafkaHeaders(ctx, m.Headers)
	ctx = logging.AppendCtx(ctx,
		slog.String("eventId", event.ID.String()),
		slog.String("orderId", event.Payload.GatewayOrderID))

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()

		ctx, span := otel.Tracer("travel-booking/notification").Start(ctx, "NotifyPayment")
		defer span.End()

		if err := c.notifier.Send(ctx, event.ID.String(), event.Event, m.Value); err != nil {
			c.logger.ErrorContext(ctx, "Error delivering payment notification", "error", err)
			droppedCounter.Inc()
			return
		}
		c.logger.InfoContext(ctx, "Payment notification delivered")
		deliveredCounter.Inc()
	}()

	return nil
}
