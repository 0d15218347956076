package repo

import (
	"time"

	"checkout-payments/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type orderRecord struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID            string    `bun:"id,pk"`
	UserID        *string   `bun:"user_id"`
	Status        string    `bun:"status,notnull"`
	PaymentMethod *string   `bun:"payment_method"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func (r *orderRecord) toDomain() *domain.Order {
	return &domain.Order{
		ID:            r.ID,
		UserID:        r.UserID,
		Status:        domain.OrderStatus(r.Status),
		PaymentMethod: r.PaymentMethod,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type paymentAttemptRecord struct {
	bun.BaseModel `bun:"table:payment_attempts,alias:pa"`

	ID                    string          `bun:"id,pk"`
	OrderID               string          `bun:"order_id,notnull"`
	UserID                *string         `bun:"user_id"`
	Amount                decimal.Decimal `bun:"amount,type:numeric(14,2),notnull"`
	Provider              string          `bun:"provider,notnull"`
	CorrelationID         string          `bun:"correlation_id,notnull,unique"`
	ProviderReference     *string         `bun:"provider_reference"`
	Status                string          `bun:"status,notnull"`
	ExternalTransactionID *string         `bun:"external_transaction_id"`
	FailureReason         *string         `bun:"failure_reason"`
	RawCallback           []byte          `bun:"raw_callback"`
	CreatedAt             time.Time       `bun:"created_at,notnull"`
	UpdatedAt             time.Time       `bun:"updated_at,notnull"`
}

func newPaymentAttemptRecord(p *domain.PaymentAttempt) *paymentAttemptRecord {
	return &paymentAttemptRecord{
		ID:                    p.ID,
		OrderID:               p.OrderID,
		UserID:                p.UserID,
		Amount:                p.Amount,
		Provider:              string(p.Provider),
		CorrelationID:         p.CorrelationID,
		ProviderReference:     p.ProviderReference,
		Status:                string(p.Status),
		ExternalTransactionID: p.ExternalTransactionID,
		FailureReason:         p.FailureReason,
		RawCallback:           p.RawCallback,
		CreatedAt:             p.CreatedAt.UTC(),
		UpdatedAt:             p.UpdatedAt.UTC(),
	}
}

func (r *paymentAttemptRecord) toDomain() domain.PaymentAttempt {
	return domain.PaymentAttempt{
		ID:                    r.ID,
		OrderID:               r.OrderID,
		UserID:                r.UserID,
		Amount:                r.Amount,
		Provider:              domain.Provider(r.Provider),
		CorrelationID:         r.CorrelationID,
		ProviderReference:     r.ProviderReference,
		Status:                domain.PaymentStatus(r.Status),
		ExternalTransactionID: r.ExternalTransactionID,
		FailureReason:         r.FailureReason,
		RawCallback:           r.RawCallback,
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
}

func nullString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
