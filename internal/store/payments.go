package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"design-service/internal/models"
)

// CreatePayment inserts a payment attempt
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (id, target_type, target_id, amount, gateway, status, provider_tx_ref,
			reference_code, failure_message, verified_at, created_at, updated_at)
		VALUES (:id, :target_type, :target_id, :amount, :gateway, :status, :provider_tx_ref,
			:reference_code, :failure_message, :verified_at, :created_at, :updated_at)`

	_, err := s.db.NamedExecContext(ctx, query, payment)
	if constraint, ok := uniqueConstraint(err); ok && constraint == constraintPendingTarget {
		return models.ErrDuplicatePendingAttempt
	}
	return err
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByReference retrieves a payment by its (gateway, provider reference) idempotency key
func (s *Store) GetPaymentByReference(ctx context.Context, gateway models.Gateway, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE gateway = $1 AND provider_tx_ref = $2 AND provider_tx_ref <> ''",
		gateway, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s/%s: %w", gateway, ref, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPendingPayment returns the pending payment of a target, or nil
func (s *Store) GetPendingPayment(ctx context.Context, target models.Target) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE target_type = $1 AND target_id = $2 AND status = $3",
		target.Type, target.ID, models.PaymentPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePayment persists the mutable payment fields. A payment that already
// left pending is never written again.
func (s *Store) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		UPDATE payments SET
			status = :status,
			provider_tx_ref = :provider_tx_ref,
			reference_code = :reference_code,
			failure_message = :failure_message,
			verified_at = :verified_at,
			updated_at = :updated_at
		WHERE id = :id AND status = 'pending'`

	res, err := s.db.NamedExecContext(ctx, query, payment)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && constraint == constraintGatewayRef {
			return fmt.Errorf("provider reference %s already used: %w", payment.ProviderTransactionRef, err)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("payment %s is no longer pending", payment.ID)
	}
	return nil
}

// ListPendingBefore lists pending payments created before the cutoff, oldest first
func (s *Store) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.PaymentPending, before, limit)
	return payments, err
}
