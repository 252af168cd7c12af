package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"design-service/internal/models"
)

// CreateDesign inserts a set design
func (s *Store) CreateDesign(ctx context.Context, design *models.SetDesign) error {
	query := `
		INSERT INTO set_designs (id, order_id, version, designer_id, status, price, paid,
			rejection_reason, artifact_ref, created_at, updated_at)
		VALUES (:id, :order_id, :version, :designer_id, :status, :price, :paid,
			:rejection_reason, :artifact_ref, :created_at, :updated_at)`

	_, err := s.db.NamedExecContext(ctx, query, design)
	return err
}

// GetDesign retrieves a set design by ID
func (s *Store) GetDesign(ctx context.Context, id string) (*models.SetDesign, error) {
	var design models.SetDesign
	err := s.db.GetContext(ctx, &design, "SELECT * FROM set_designs WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("set design %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &design, nil
}

// UpdateDesign persists every mutable field of a set design
func (s *Store) UpdateDesign(ctx context.Context, design *models.SetDesign) error {
	query := `
		UPDATE set_designs SET
			version = :version,
			designer_id = :designer_id,
			status = :status,
			paid = :paid,
			rejection_reason = :rejection_reason,
			artifact_ref = :artifact_ref,
			updated_at = :updated_at
		WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, query, design)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set design %s: %w", design.ID, models.ErrNotFound)
	}
	return nil
}

// GetDesignsByOrderID retrieves every set design of an order, newest version first
func (s *Store) GetDesignsByOrderID(ctx context.Context, orderID string) ([]models.SetDesign, error) {
	var designs []models.SetDesign
	err := s.db.SelectContext(ctx, &designs,
		"SELECT * FROM set_designs WHERE order_id = $1 ORDER BY version DESC, created_at DESC", orderID)
	return designs, err
}
