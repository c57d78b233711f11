package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"travel-booking/internal/config"
	"travel-booking/internal/logging"

	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"
)

type Metrics struct {
	ReadErrorCounter    *metrics.Counter
	ProcessErrorCounter *metrics.Counter
	SuccessCounter      *metrics.Counter
}

func NewMetrics(messageType string) Metrics {
	return Metrics{
		ReadErrorCounter:    metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="` + messageType + `"}`),
		ProcessErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="` + messageType + `"}`),
		SuccessCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="` + messageType + `"}`),
	}
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func NewReader(cfg config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   cfg.Topic.PaymentEvents,
	})
}

// ReadMessages feeds every message from reader to process until ctx is done
// or the reader is closed. Processing errors are logged and counted; the
// message is not re-read.
func ReadMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, kafka.Message) error, kafkaMetrics Metrics) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				logger.InfoContext(ctx, "Stopping Kafka reader")
				return
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}

		msgCtx := logging.AppendCtx(ctx,
			slog.String("topic", m.Topic),
			slog.Int("partition", m.Partition),
			slog.Int64("offset", m.Offset))
		logger.DebugContext(msgCtx, "Received message")

		if err := process(msgCtx, m); err != nil {
			logger.ErrorContext(msgCtx, "Error processing message", "error", err)
			kafkaMetrics.ProcessErrorCounter.Inc()
			continue
		}
		kafkaMetrics.SuccessCounter.Inc()
	}
}
