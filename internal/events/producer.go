package events

import (
	"context"
	"log/slog"
	"time"

	"travel-booking/internal/config"
	"travel-booking/internal/db"
	"travel-booking/internal/logging"
	"travel-booking/internal/tracing"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const (
	defaultPollingIntervalMs  = 500
	defaultFetchSize          = 200
	defaultRescheduleDelayMs  = 10_000
	defaultMaxPublishAttempts = 3

	eventTypeHeader = "event-type"
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`outbox_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`outbox_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`outbox_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`outbox_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`outbox_producer_duration_milliseconds`)

	// producer per event metrics
	producerEventsPublishedCounter   = metrics.GetOrCreateCounter(`outbox_producer_events_total{result="published"}`)
	producerEventsMaxAttemptsCounter = metrics.GetOrCreateCounter(`outbox_producer_events_total{result="max_attempts_reached"}`)
	producerEventsRescheduledCounter = metrics.GetOrCreateCounter(`outbox_producer_events_total{result="rescheduled"}`)
)

type Store interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetDueEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*db.PaymentEventEntity, error)
	UpdateEvent(ctx context.Context, tx pgx.Tx, event *db.PaymentEventEntity) error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer relays payment events written in the verification transaction
// to Kafka. Events that fail to publish are rescheduled with a linear delay
// until the attempt limit is reached.
type Producer struct {
	store              Store
	writer             Writer
	pollingInterval    time.Duration
	fetchSize          int
	rescheduleDelay    time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(store Store, writer Writer, cfg config.Outbox, logger *slog.Logger) *Producer {
	return &Producer{
		store:              store,
		writer:             writer,
		pollingInterval:    time.Duration(orDefault(cfg.PollingIntervalMs, defaultPollingIntervalMs)) * time.Millisecond,
		fetchSize:          orDefault(cfg.FetchSize, defaultFetchSize),
		rescheduleDelay:    time.Duration(orDefault(cfg.RescheduleDelayMs, defaultRescheduleDelayMs)) * time.Millisecond,
		maxPublishAttempts: orDefault(cfg.MaxPublishAttempts, defaultMaxPublishAttempts),
		logger:             logger,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping outbox producer")
				return
			}
		}
	}()
}

func (p *Producer) process(ctx context.Context) {
	startTime := time.Now()
	defer func() {
		producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// runId correlates all logs of one polling round
	ctx = logging.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}
	defer tx.Rollback(ctx)

	events, err := p.store.GetDueEvents(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching due payment events", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(events) == 0 {
		p.logger.DebugContext(ctx, "No due payment events found")
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Writing payment events to Kafka", "count", len(events))
	publishErr := p.writer.WriteMessages(ctx, p.toKafkaMessages(ctx, events)...)
	if publishErr != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", publishErr)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, event := range events {
		eventCtx := logging.AppendCtx(ctx, slog.String("eventId", event.ID.String()))

		event.PublishAttempts++

		if publishErr != nil {
			errMsg := publishErr.Error()
			event.Error = &errMsg

			if event.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(eventCtx, "Max publish attempts reached for payment event")
				event.ScheduledAt = nil

				producerEventsMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(event.PublishAttempts) * p.rescheduleDelay)
				event.ScheduledAt = &scheduledAt

				producerEventsRescheduledCounter.Inc()
			}
		} else {
			event.ScheduledAt = nil
			event.PublishedAt = &now
			event.Error = nil

			producerEventsPublishedCounter.Inc()
		}

		if err := p.store.UpdateEvent(eventCtx, tx, event); err != nil {
			p.logger.ErrorContext(eventCtx, "Error updating payment event", "error", err)
			producerErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
		return
	}

	producerSuccessCounter.Inc()
}

func (p *Producer) toKafkaMessages(ctx context.Context, events []*db.PaymentEventEntity) []kafka.Message {
	kafkaMessages := make([]kafka.Message, 0, len(events))

	for _, event := range events {
		p.logger.DebugContext(ctx, "Preparing Kafka message for payment event", "id", event.ID)

		var traceparent string
		if event.Traceparent != nil {
			traceparent = *event.Traceparent
		}
		headers := append(tracing.KafkaHeaders(traceparent), kafka.Header{Key: eventTypeHeader, Value: []byte(event.Type)})

		kafkaMessages = append(kafkaMessages, kafka.Message{
			// payment id as key keeps the events of one payment ordered
			Key:     []byte(event.PaymentID.String()),
			Value:   []byte(event.Payload),
			Headers: headers,
		})
	}
	return kafkaMessages
}
