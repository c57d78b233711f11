package kafka

import (
	"strings"
	"time"

	"travel-booking/internal/config"

	"github.com/segmentio/kafka-go"
)

const (
	DefaultBatchSize      = 100
	DefaultBatchTimeoutMs = 100
)

func NewWriter(cfg config.Kafka) *kafka.Writer {
	batchSize := cfg.Writer.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchTimeoutMs := cfg.Writer.BatchTimeoutMs
	if batchTimeoutMs <= 0 {
		batchTimeoutMs = DefaultBatchTimeoutMs
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Broker.URL, ",")...),
		Topic:                  cfg.Topic.PaymentEvents,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(batchTimeoutMs) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}
