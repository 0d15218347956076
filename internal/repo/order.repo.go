package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"checkout-payments/internal/domain"

	"github.com/uptrace/bun"
)

type OrderRepo interface {
	FindById(ctx context.Context, id string) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx bun.IDB, order *domain.Order) error
	// MarkPaid moves an order that is not yet paid to paid and reports
	// whether a row changed.
	MarkPaid(ctx context.Context, tx bun.IDB, id string, paymentMethod string) (bool, error)
}

type orderRepo struct {
	db  *bun.DB
	now func() time.Time
}

func NewOrderRepo(db *bun.DB) OrderRepo {
	return &orderRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *orderRepo) FindById(ctx context.Context, id string) (*domain.Order, error) {
	record := new(orderRecord)
	err := r.db.NewSelect().Model(record).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	return record.toDomain(), nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx bun.IDB, order *domain.Order) error {
	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	if order.Status == "" {
		order.Status = domain.OrderUnpaid
	}
	var execNode bun.IDB = r.db
	if tx != nil {
		execNode = tx
	}
	_, err := execNode.NewInsert().Model(&orderRecord{
		ID:            order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentMethod: order.PaymentMethod,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}).Exec(ctx)
	return err
}

func (r *orderRepo) MarkPaid(ctx context.Context, tx bun.IDB, id string, paymentMethod string) (bool, error) {
	var execNode bun.IDB = r.db
	if tx != nil {
		execNode = tx
	}
	res, err := execNode.NewUpdate().
		Model((*orderRecord)(nil)).
		Set("status = ?", string(domain.OrderPaid)).
		Set("payment_method = ?", paymentMethod).
		Set("updated_at = ?", r.now()).
		Where("id = ?", id).
		Where("status <> ?", string(domain.OrderPaid)).
		Exec(ctx)
	return transitioned(res, err)
}
