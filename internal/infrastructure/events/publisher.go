// Package events publishes payment outcomes for downstream consumers such as
// fulfilment and notifications.
package events

import (
	"context"
	"time"

	"checkout-payments/internal/domain"
)

const (
	SubjectCompleted = "payments.completed"
	SubjectFailed    = "payments.failed"
)

type PaymentEvent struct {
	AttemptID             string    `json:"attempt_id"`
	OrderID               string    `json:"order_id"`
	CorrelationID         string    `json:"correlation_id"`
	Provider              string    `json:"provider"`
	Status                string    `json:"status"`
	Amount                string    `json:"amount"`
	ExternalTransactionID string    `json:"external_transaction_id,omitempty"`
	FailureReason         string    `json:"failure_reason,omitempty"`
	OrderPaid             bool      `json:"order_paid"`
	OccurredAt            time.Time `json:"occurred_at"`
}

// Subject is the NATS subject the event is published on.
func (e PaymentEvent) Subject() string {
	if e.Status == string(domain.PaymentCompleted) {
		return SubjectCompleted
	}
	return SubjectFailed
}

// MessageID deduplicates republished transitions within the stream window.
func (e PaymentEvent) MessageID() string {
	return e.AttemptID + ":" + e.Status
}

type Publisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
}

type nopPublisher struct{}

// Nop discards every event.
func Nop() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, PaymentEvent) error {
	return nil
}
