package service

import (
	"context"
	"time"

	"design-service/internal/models"
)

// DesignRepository persists set designs. GetDesign returns a detached copy
// and models.ErrNotFound when the design does not exist.
type DesignRepository interface {
	CreateDesign(ctx context.Context, design *models.SetDesign) error
	GetDesign(ctx context.Context, id string) (*models.SetDesign, error)
	UpdateDesign(ctx context.Context, design *models.SetDesign) error
	GetDesignsByOrderID(ctx context.Context, orderID string) ([]models.SetDesign, error)
}

// PaymentRepository persists payments. CreatePayment fails with
// models.ErrDuplicatePendingAttempt when the target already has a pending payment.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, gateway models.Gateway, ref string) (*models.Payment, error)
	GetPendingPayment(ctx context.Context, target models.Target) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
}

// OrderRepository persists orders
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	GetOrdersByCustomerID(ctx context.Context, customerID string) ([]models.Order, error)
}

// OrderAggregate is what the workflow and coordinator need from orders
type OrderAggregate interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID string) (bool, error)
	BeginPayment(ctx context.Context, caller models.Identity, orderID string, gw models.Gateway, amount int64) (*models.Payment, error)
}

// Notifier dispatches domain events. Failures are logged by callers and never fail a transition.
type Notifier interface {
	PublishDesignEvent(ctx context.Context, event *models.DesignEvent) error
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
}
