package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"design-service/internal/models"
)

// MemoryStore keeps orders, set designs and payments in process memory with
// the same uniqueness rules as the Postgres schema. Used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]models.Order
	designs  map[string]models.SetDesign
	payments map[string]models.Payment
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]models.Order),
		designs:  make(map[string]models.SetDesign),
		payments: make(map[string]models.Payment),
	}
}

func (m *MemoryStore) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	m.orders[order.ID] = *order
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return &order, nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, models.ErrNotFound)
	}
	m.orders[order.ID] = *order
	return nil
}

func (m *MemoryStore) GetOrdersByCustomerID(_ context.Context, customerID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateDesign(_ context.Context, design *models.SetDesign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.designs[design.ID]; ok {
		return fmt.Errorf("set design %s already exists", design.ID)
	}
	m.designs[design.ID] = *design
	return nil
}

func (m *MemoryStore) GetDesign(_ context.Context, id string) (*models.SetDesign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	design, ok := m.designs[id]
	if !ok {
		return nil, fmt.Errorf("set design %s: %w", id, models.ErrNotFound)
	}
	return &design, nil
}

func (m *MemoryStore) UpdateDesign(_ context.Context, design *models.SetDesign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.designs[design.ID]; !ok {
		return fmt.Errorf("set design %s: %w", design.ID, models.ErrNotFound)
	}
	if design.Paid && design.Status != models.DesignCompleted {
		return fmt.Errorf("set design %s: paid requires completed", design.ID)
	}
	m.designs[design.ID] = *design
	return nil
}

func (m *MemoryStore) GetDesignsByOrderID(_ context.Context, orderID string) ([]models.SetDesign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SetDesign
	for _, d := range m.designs {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version > out[j].Version
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.payments {
		if p.Status == models.PaymentPending && p.TargetType == payment.TargetType && p.TargetID == payment.TargetID {
			return models.ErrDuplicatePendingAttempt
		}
	}
	if err := m.checkReference(payment); err != nil {
		return err
	}
	m.payments[payment.ID] = clonePayment(*payment)
	return nil
}

func (m *MemoryStore) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payment, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, models.ErrNotFound)
	}
	payment = clonePayment(payment)
	return &payment, nil
}

func (m *MemoryStore) GetPaymentByReference(_ context.Context, gateway models.Gateway, ref string) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ref != "" {
		for _, p := range m.payments {
			if p.Gateway == gateway && p.ProviderTransactionRef == ref {
				p = clonePayment(p)
				return &p, nil
			}
		}
	}
	return nil, fmt.Errorf("payment %s/%s: %w", gateway, ref, models.ErrNotFound)
}

func (m *MemoryStore) GetPendingPayment(_ context.Context, target models.Target) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.Status == models.PaymentPending && p.TargetType == target.Type && p.TargetID == target.ID {
			p = clonePayment(p)
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UpdatePayment(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.payments[payment.ID]
	if !ok {
		return fmt.Errorf("payment %s: %w", payment.ID, models.ErrNotFound)
	}
	if current.Status != models.PaymentPending {
		return fmt.Errorf("payment %s is no longer pending", payment.ID)
	}
	if err := m.checkReference(payment); err != nil {
		return err
	}
	m.payments[payment.ID] = clonePayment(*payment)
	return nil
}

func (m *MemoryStore) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Payment
	for _, p := range m.payments {
		if p.Status == models.PaymentPending && p.CreatedAt.Before(before) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) checkReference(payment *models.Payment) error {
	if payment.ProviderTransactionRef == "" {
		return nil
	}
	for id, p := range m.payments {
		if id != payment.ID && p.Gateway == payment.Gateway && p.ProviderTransactionRef == payment.ProviderTransactionRef {
			return fmt.Errorf("provider reference %s already used", payment.ProviderTransactionRef)
		}
	}
	return nil
}

func clonePayment(p models.Payment) models.Payment {
	if p.VerifiedAt != nil {
		t := *p.VerifiedAt
		p.VerifiedAt = &t
	}
	return p
}
