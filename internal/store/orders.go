package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"design-service/internal/models"
)

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, customer_id, total_amount, status, paid, created_at, updated_at)
		VALUES (:id, :customer_id, :total_amount, :status, :paid, :created_at, :updated_at)`

	_, err := s.db.NamedExecContext(ctx, query, order)
	return err
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder persists the mutable order fields
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, paid = $2, updated_at = $3 WHERE id = $4",
		order.Status, order.Paid, order.UpdatedAt, order.ID)
	return err
}

// GetOrdersByCustomerID retrieves orders for a customer
func (s *Store) GetOrdersByCustomerID(ctx context.Context, customerID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	return orders, err
}
