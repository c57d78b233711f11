package db

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "created"
	PaymentStatusAttempted PaymentStatus = "attempted"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type PaymentEntity struct {
	ID               uuid.UUID     `json:"id"`
	GatewayOrderID   string        `json:"gatewayOrderId"`
	GatewayPaymentID string        `json:"gatewayPaymentId"`
	Signature        string        `json:"-"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           PaymentStatus `json:"status"`
	PayerName        *string       `json:"payerName,omitempty"`
	PayerEmail       *string       `json:"payerEmail,omitempty"`
	PayerPhone       *string       `json:"payerPhone,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

type PaymentEventEntity struct {
	ID              uuid.UUID
	PaymentID       uuid.UUID
	Type            string
	Payload         string
	Traceparent     *string
	CreatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}
