package message

import (
	"time"

	"github.com/google/uuid"
)

const EventPaymentVerified = "payment.verified"

type Payment struct {
	ID               uuid.UUID `json:"id"`
	GatewayOrderID   string    `json:"gatewayOrderId"`
	GatewayPaymentID string    `json:"gatewayPaymentId"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	PayerName        string    `json:"payerName,omitempty"`
	PayerEmail       string    `json:"payerEmail,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

type PaymentEvent struct {
	ID      uuid.UUID `json:"id"`
	Event   string    `json:"event"`
	Payload Payment   `json:"payload"`
}
