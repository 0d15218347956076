package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether no further notification may change the status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

type Provider string

const (
	ProviderMpesa  Provider = "mpesa"
	ProviderStripe Provider = "stripe"
)

func ParseProvider(value string) (Provider, bool) {
	switch Provider(value) {
	case ProviderMpesa:
		return ProviderMpesa, true
	case ProviderStripe:
		return ProviderStripe, true
	}
	return "", false
}

// PaymentMethod is what gets recorded on the order once paid.
func (p Provider) PaymentMethod() string {
	switch p {
	case ProviderMpesa:
		return "mpesa"
	case ProviderStripe:
		return "card"
	}
	return string(p)
}

type PaymentAttempt struct {
	ID                    string
	OrderID               string
	UserID                *string
	Amount                decimal.Decimal
	Provider              Provider
	CorrelationID         string
	ProviderReference     *string
	Status                PaymentStatus
	ExternalTransactionID *string
	FailureReason         *string
	RawCallback           []byte
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
