package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"design-service/internal/gateway"
	"design-service/internal/lock"
	"design-service/internal/models"
	"design-service/internal/store"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	designs []*models.DesignEvent
	pays    []*models.PaymentEvent
}

func (n *recordingNotifier) PublishDesignEvent(_ context.Context, event *models.DesignEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.designs = append(n.designs, event)
	return nil
}

func (n *recordingNotifier) PublishPaymentEvent(_ context.Context, event *models.PaymentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pays = append(n.pays, event)
	return nil
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := 0
	for _, e := range n.designs {
		if e.EventType == eventType {
			c++
		}
	}
	for _, e := range n.pays {
		if e.EventType == eventType {
			c++
		}
	}
	return c
}

type fixture struct {
	store       *store.MemoryStore
	ledger      *PaymentLedger
	locker      lock.Locker
	orders      *OrderService
	workflow    *DesignWorkflow
	coordinator *SettlementCoordinator
	notifier    *recordingNotifier

	customer models.Identity
	designer models.Identity
	admin    models.Identity
	internal models.Identity
}

type fixtureOptions struct {
	workflow     WorkflowOptions
	providerAURL string
	providerBURL string
	lockWait     time.Duration
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	repo := store.NewMemoryStore()
	if opts.lockWait == 0 {
		opts.lockWait = 2 * time.Second
	}
	locker := lock.NewLocal(opts.lockWait)
	notifier := &recordingNotifier{}

	client := gateway.NewClient(gateway.ClientOptions{
		Timeout:        time.Second,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
	registry := gateway.NewRegistry(
		gateway.NewProviderA(gateway.ProviderAConfig{BaseURL: opts.providerAURL, MerchantID: "merchant-1"}, client),
		gateway.NewProviderB(gateway.ProviderBConfig{BaseURL: opts.providerBURL, APIKey: "key", Sandbox: true}, client),
		gateway.NewInternal(),
	)

	ledger := NewPaymentLedger(repo)
	orders := NewOrderService(repo, ledger)
	workflow := NewDesignWorkflow(repo, orders, ledger, locker, notifier, opts.workflow)

	return &fixture{
		store:       repo,
		ledger:      ledger,
		orders:      orders,
		workflow:    workflow,
		locker:      locker,
		coordinator: NewSettlementCoordinator(registry, ledger, workflow, orders, locker, notifier),
		notifier:    notifier,
		customer:    models.Identity{UserID: "customer-1", Role: models.RoleCustomer},
		designer:    models.Identity{UserID: "designer-1", Role: models.RoleDesigner},
		admin:       models.Identity{UserID: "admin-1", Role: models.RoleAdmin},
		internal:    models.Identity{UserID: "billing-service", Role: models.RoleInternal},
	}
}

func (f *fixture) newOrder(t *testing.T, total int64) *models.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), f.customer, &CreateOrderRequest{TotalAmount: total})
	require.NoError(t, err)
	return order
}

func (f *fixture) newDesign(t *testing.T, price int64) *models.SetDesign {
	t.Helper()
	order := f.newOrder(t, price)
	design, err := f.workflow.Create(context.Background(), f.customer, order.ID, price)
	require.NoError(t, err)
	return design
}

// pendingApproval drives a fresh design to pending_approval
func (f *fixture) pendingApproval(t *testing.T, price int64) *models.SetDesign {
	t.Helper()
	ctx := context.Background()

	design := f.newDesign(t, price)
	_, err := f.workflow.Assign(ctx, f.designer, design.ID, f.designer.UserID)
	require.NoError(t, err)
	design, err = f.workflow.Submit(ctx, f.designer, design.ID, "s3://designs/"+design.ID+"/v1.pdf")
	require.NoError(t, err)
	return design
}

func (f *fixture) completedDesign(t *testing.T, price int64) *models.SetDesign {
	t.Helper()
	design := f.pendingApproval(t, price)
	design, err := f.workflow.Approve(context.Background(), f.customer, design.ID, ApproveRequest{Approved: true})
	require.NoError(t, err)
	return design
}

// openAttempt leaves a pending attempt on target without starting checkout
func (f *fixture) openAttempt(t *testing.T, target models.Target, amount int64, gw models.Gateway) *models.Payment {
	t.Helper()
	payment, err := f.ledger.BeginAttempt(context.Background(), target, amount, gw)
	require.NoError(t, err)
	return payment
}
