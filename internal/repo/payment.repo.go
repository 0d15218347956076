package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"checkout-payments/internal/domain"

	"github.com/uptrace/bun"
)

type PaymentRepo interface {
	// tx may be nil; writes then go straight to the database
	CreatePayment(ctx context.Context, tx bun.IDB, payment *domain.PaymentAttempt) error
	// returns nil, nil when no attempt carries the correlation id
	FindByCorrelationID(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error)
	// CompletePayment and FailPayment only touch a pending attempt and report
	// whether this call performed the transition.
	CompletePayment(ctx context.Context, tx bun.IDB, correlationID string, externalTxnID string, raw []byte) (bool, error)
	FailPayment(ctx context.Context, tx bun.IDB, correlationID string, reason string, raw []byte) (bool, error)
	FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentAttempt, error)
}

type paymentRepo struct {
	db  *bun.DB
	now func() time.Time
}

func NewPaymentRepo(db *bun.DB) PaymentRepo {
	return &paymentRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *paymentRepo) conn(tx bun.IDB) bun.IDB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *paymentRepo) CreatePayment(ctx context.Context, tx bun.IDB, payment *domain.PaymentAttempt) error {
	now := r.now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	if payment.UpdatedAt.IsZero() {
		payment.UpdatedAt = now
	}
	_, err := r.conn(tx).NewInsert().Model(newPaymentAttemptRecord(payment)).Exec(ctx)
	return err
}

func (r *paymentRepo) FindByCorrelationID(ctx context.Context, correlationID string) (*domain.PaymentAttempt, error) {
	record := new(paymentAttemptRecord)
	err := r.db.NewSelect().
		Model(record).
		Where("correlation_id = ?", correlationID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := record.toDomain()
	return &p, nil
}

func (r *paymentRepo) CompletePayment(ctx context.Context, tx bun.IDB, correlationID string, externalTxnID string, raw []byte) (bool, error) {
	res, err := r.conn(tx).NewUpdate().
		Model((*paymentAttemptRecord)(nil)).
		Set("status = ?", string(domain.PaymentCompleted)).
		Set("external_transaction_id = ?", nullString(externalTxnID)).
		Set("raw_callback = ?", raw).
		Set("updated_at = ?", r.now()).
		Where("correlation_id = ?", correlationID).
		Where("status = ?", string(domain.PaymentPending)).
		Exec(ctx)
	return transitioned(res, err)
}

func (r *paymentRepo) FailPayment(ctx context.Context, tx bun.IDB, correlationID string, reason string, raw []byte) (bool, error) {
	res, err := r.conn(tx).NewUpdate().
		Model((*paymentAttemptRecord)(nil)).
		Set("status = ?", string(domain.PaymentFailed)).
		Set("failure_reason = ?", nullString(reason)).
		Set("raw_callback = ?", raw).
		Set("updated_at = ?", r.now()).
		Where("correlation_id = ?", correlationID).
		Where("status = ?", string(domain.PaymentPending)).
		Exec(ctx)
	return transitioned(res, err)
}

func (r *paymentRepo) FindPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.PaymentAttempt, error) {
	var records []paymentAttemptRecord
	err := r.db.NewSelect().
		Model(&records).
		Where("status = ?", string(domain.PaymentPending)).
		Where("created_at < ?", before.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	payments := make([]domain.PaymentAttempt, 0, len(records))
	for i := range records {
		payments = append(payments, records[i].toDomain())
	}
	return payments, nil
}

func transitioned(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
