package service

import (
	"context"
	"strings"
	"time"

	"checkout-payments/internal/domain"
	"checkout-payments/internal/repo"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type OrderService interface {
	CreateOrder(ctx context.Context, id string, userID *string) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}

type orderService struct {
	db        *bun.DB
	orderRepo repo.OrderRepo
}

func NewOrderService(db *bun.DB, orderRepo repo.OrderRepo) OrderService {
	return &orderService{
		db:        db,
		orderRepo: orderRepo,
	}
}

// CreateOrder stores a new unpaid order. An empty id gets a generated one.
func (s *orderService) CreateOrder(ctx context.Context, id string, userID *string) (*domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	existing, err := s.orderRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ValidationFailure("id", "already exists")
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:        id,
		UserID:    userID,
		Status:    domain.OrderUnpaid,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.NotFound("order", id)
	}
	return order, nil
}
