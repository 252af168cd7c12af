package service

import (
	"context"
	"fmt"
	"time"

	"design-service/internal/models"
	"design-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService owns orders and exposes the order aggregate contract
type OrderService struct {
	orders OrderRepository
	ledger *PaymentLedger
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(orders OrderRepository, ledger *PaymentLedger) *OrderService {
	return &OrderService{
		orders: orders,
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	TotalAmount int64 `json:"total_amount" binding:"min=0"`
}

func orderTarget(id string) models.Target {
	return models.Target{Type: models.TargetOrder, ID: id}
}

// CreateOrder creates an order owned by the calling customer
func (s *OrderService) CreateOrder(ctx context.Context, caller models.Identity, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if caller.Role != models.RoleCustomer || caller.UserID == "" {
		return nil, models.ErrForbidden
	}
	if req.TotalAmount < 0 {
		return nil, models.ErrInvalidAmount
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:          uuid.New().String(),
		CustomerID:  caller.UserID,
		TotalAmount: req.TotalAmount,
		Status:      models.OrderStatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("Order created", zap.String("order_id", order.ID), zap.String("customer_id", caller.UserID))
	return order, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

// ListOrders returns a customer's orders. Admins may list any customer.
func (s *OrderService) ListOrders(ctx context.Context, caller models.Identity, customerID string) ([]models.Order, error) {
	if customerID == "" {
		customerID = caller.UserID
	}
	if !caller.IsAdmin() && (caller.Role != models.RoleCustomer || caller.UserID != customerID) {
		return nil, models.ErrForbidden
	}
	return s.orders.GetOrdersByCustomerID(ctx, customerID)
}

// MarkOrderPaid flips the order to paid. The caller holds the order's target
// lock. Reports whether the order changed.
func (s *OrderService) MarkOrderPaid(ctx context.Context, orderID string) (bool, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.Paid {
		return false, nil
	}

	order.Paid = true
	order.Status = models.OrderStatusPaid
	order.UpdatedAt = time.Now().UTC()
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	s.logger.Info("Order paid", zap.String("order_id", orderID))
	return true, nil
}

// BeginPayment opens a settlement attempt for the order total. The caller
// must hold the order's target lock.
func (s *OrderService) BeginPayment(ctx context.Context, caller models.Identity, orderID string, gw models.Gateway, amount int64) (*models.Payment, error) {
	if !caller.CanPayWith(gw) {
		return nil, models.ErrForbidden
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !caller.IsInternal() && (caller.Role != models.RoleCustomer || caller.UserID != order.CustomerID) {
		return nil, models.ErrForbidden
	}
	if order.Paid || order.Status == models.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order %s is %s", models.ErrInvalidTransition, order.ID, order.Status)
	}
	if amount != order.TotalAmount {
		return nil, fmt.Errorf("%w: expected %d, got %d", models.ErrInvalidAmount, order.TotalAmount, amount)
	}

	return s.ledger.BeginAttempt(ctx, orderTarget(order.ID), amount, gw)
}
