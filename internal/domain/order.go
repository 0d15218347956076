package domain

import (
	"time"
)

type OrderStatus string

const (
	OrderUnpaid    OrderStatus = "unpaid"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID            string
	UserID        *string
	Status        OrderStatus
	PaymentMethod *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
