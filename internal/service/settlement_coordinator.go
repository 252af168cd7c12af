package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"design-service/internal/gateway"
	"design-service/internal/lock"
	"design-service/internal/models"
	"design-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallbackRequest is a gateway redirect or webhook as received at the boundary
type CallbackRequest struct {
	Gateway string
	Params  map[string]string
}

// SettlementResult is the normalized answer returned to the boundary
type SettlementResult struct {
	Success        bool                 `json:"success"`
	AlreadySettled bool                 `json:"already_settled"`
	Status         models.PaymentStatus `json:"status"`
	ReferenceCode  string               `json:"reference_code,omitempty"`
	PaymentID      string               `json:"payment_id"`
	OrderID        string               `json:"order_id,omitempty"`
	DesignID       string               `json:"design_id,omitempty"`
	Message        string               `json:"message"`
}

// CheckoutResult tells the caller where to send the customer, or that the payment already settled
type CheckoutResult struct {
	Payment     *models.Payment   `json:"payment"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Settlement  *SettlementResult `json:"settlement,omitempty"`
}

// SettlementCoordinator is the only component reachable from the callback boundary.
// It holds no state of its own; it composes adapters, the ledger and the
// target aggregates under the per-target lock.
type SettlementCoordinator struct {
	registry *gateway.Registry
	ledger   *PaymentLedger
	workflow *DesignWorkflow
	orders   OrderAggregate
	locker   lock.Locker
	notifier Notifier
	logger   *zap.Logger
}

// NewSettlementCoordinator creates a new settlement coordinator
func NewSettlementCoordinator(
	registry *gateway.Registry,
	ledger *PaymentLedger,
	workflow *DesignWorkflow,
	orders OrderAggregate,
	locker lock.Locker,
	notifier Notifier,
) *SettlementCoordinator {
	return &SettlementCoordinator{
		registry: registry,
		ledger:   ledger,
		workflow: workflow,
		orders:   orders,
		locker:   locker,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// Settle verifies a gateway callback and applies it at most once
func (c *SettlementCoordinator) Settle(ctx context.Context, req CallbackRequest) (*SettlementResult, error) {
	ctx, span := util.StartSpan(ctx, "SettlementCoordinator.Settle")
	defer span.End()

	adapter, err := c.registry.Resolve(req.Gateway, req.Params)
	if err != nil {
		util.SettlementsTotal.WithLabelValues("unknown", "unrecognized").Inc()
		return nil, err
	}
	gw := adapter.Name()
	if gw == models.GatewayInternal {
		// internal settlements never come from outside
		return nil, models.ErrUnrecognizedCallback
	}

	start := time.Now()
	defer func() {
		util.SettlementLatency.WithLabelValues(string(gw)).Observe(time.Since(start).Seconds())
	}()

	cb := adapter.ExtractCallback(req.Params)
	if cb.Incomplete {
		util.SettlementsTotal.WithLabelValues(string(gw), "incomplete").Inc()
		return nil, models.ErrMissingCallbackParameters
	}

	payment, err := c.match(ctx, gw, cb)
	if err != nil {
		if errors.Is(err, models.ErrNoMatchingAttempt) {
			util.SettlementsTotal.WithLabelValues(string(gw), "no_match").Inc()
			c.logger.Warn("Callback matched no payment attempt",
				zap.String("gateway", string(gw)),
				zap.String("provider_ref", cb.ProviderTransactionRef),
				zap.String("payment_id", cb.PaymentID))
		}
		return nil, err
	}

	release, err := c.locker.Acquire(ctx, payment.Target().LockKey())
	if err != nil {
		util.SettlementsTotal.WithLabelValues(string(gw), "busy").Inc()
		return nil, err
	}
	defer release()

	result, err := c.settleLocked(ctx, adapter, cb, payment.ID)
	if err != nil {
		util.SettlementsTotal.WithLabelValues(string(gw), "error").Inc()
		return nil, err
	}
	util.SettlementsTotal.WithLabelValues(string(gw), settlementLabel(result)).Inc()
	return result, nil
}

// PayDesign opens an attempt on a completed design and starts its checkout in
// one lock window. A failed checkout cancels the attempt before the lock is
// released, so a retry is never blocked by it.
func (c *SettlementCoordinator) PayDesign(ctx context.Context, caller models.Identity, designID string, gw models.Gateway, amount int64, description string) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "SettlementCoordinator.PayDesign")
	defer span.End()

	return c.pay(ctx, designTarget(designID), description, func(ctx context.Context) (*models.Payment, error) {
		return c.workflow.BeginPayment(ctx, caller, designID, gw, amount)
	})
}

// PayOrder opens an attempt for an order total and starts its checkout
func (c *SettlementCoordinator) PayOrder(ctx context.Context, caller models.Identity, orderID string, gw models.Gateway, amount int64, description string) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "SettlementCoordinator.PayOrder")
	defer span.End()

	return c.pay(ctx, orderTarget(orderID), description, func(ctx context.Context) (*models.Payment, error) {
		return c.orders.BeginPayment(ctx, caller, orderID, gw, amount)
	})
}

func (c *SettlementCoordinator) pay(ctx context.Context, target models.Target, description string, begin func(context.Context) (*models.Payment, error)) (*CheckoutResult, error) {
	release, err := c.locker.Acquire(ctx, target.LockKey())
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := begin(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.checkout(ctx, payment, description)
	if err != nil {
		// a cancelled request must not leave the attempt behind
		if _, _, cerr := c.ledger.Cancel(context.WithoutCancel(ctx), payment.ID, "checkout failed"); cerr != nil {
			c.logger.Error("Failed to cancel attempt after checkout error",
				zap.String("payment_id", payment.ID),
				zap.Error(cerr))
		}
		return nil, err
	}
	return result, nil
}

// checkout starts the gateway side of a fresh attempt. Redirect gateways get
// their provider reference attached and a redirect URL back; the internal
// gateway is verified and finalized synchronously. The caller holds the target lock.
func (c *SettlementCoordinator) checkout(ctx context.Context, payment *models.Payment, description string) (*CheckoutResult, error) {
	adapter, err := c.registry.Get(payment.Gateway)
	if err != nil {
		return nil, err
	}

	if payment.Gateway == models.GatewayInternal {
		payment, err = c.ledger.AttachReference(ctx, payment.ID, "INT-"+uuid.New().String())
		if err != nil {
			return nil, err
		}
		cb := adapter.ExtractCallback(map[string]string{"ref": payment.ProviderTransactionRef, "payment_id": payment.ID})
		result, err := c.settleLocked(ctx, adapter, cb, payment.ID)
		if err != nil {
			return nil, err
		}
		util.SettlementsTotal.WithLabelValues(string(payment.Gateway), settlementLabel(result)).Inc()
		payment, err = c.ledger.Get(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{Payment: payment, Settlement: result}, nil
	}

	initiator, ok := adapter.(gateway.Initiator)
	if !ok {
		return &CheckoutResult{Payment: payment}, nil
	}
	started, err := initiator.Initiate(ctx, gateway.Expectation{PaymentID: payment.ID, Amount: payment.Amount}, description)
	if err != nil {
		return nil, err
	}
	payment, err = c.ledger.AttachReference(ctx, payment.ID, started.ProviderTransactionRef)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Checkout started",
		zap.String("payment_id", payment.ID),
		zap.String("gateway", string(payment.Gateway)),
		zap.String("provider_ref", started.ProviderTransactionRef))
	return &CheckoutResult{Payment: payment, RedirectURL: started.RedirectURL}, nil
}

// CancelStale cancels pending attempts older than age, each under its target
// lock. Busy targets are skipped until the next sweep.
func (c *SettlementCoordinator) CancelStale(ctx context.Context, age time.Duration, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "SettlementCoordinator.CancelStale")
	defer span.End()

	stale, err := c.ledger.StalePending(ctx, age, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale attempts: %w", err)
	}

	cancelled := 0
	for i := range stale {
		p := &stale[i]
		release, err := c.locker.Acquire(ctx, p.Target().LockKey())
		if err != nil {
			if errors.Is(err, models.ErrBusy) {
				continue
			}
			return cancelled, err
		}
		_, changed, err := c.ledger.Cancel(ctx, p.ID, "payment attempt expired")
		release()
		if err != nil {
			c.logger.Error("Failed to cancel stale attempt", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		if changed {
			cancelled++
			util.StaleAttemptsCancelledTotal.Inc()
		}
	}
	return cancelled, nil
}

// match finds the attempt a callback refers to, by idempotency key first and
// then by the payment id the provider echoes back
func (c *SettlementCoordinator) match(ctx context.Context, gw models.Gateway, cb gateway.NormalizedCallback) (*models.Payment, error) {
	payment, err := c.ledger.FindByReference(ctx, gw, cb.ProviderTransactionRef)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if cb.PaymentID != "" {
		payment, err = c.ledger.Get(ctx, cb.PaymentID)
		if err == nil && payment.Gateway == gw &&
			(payment.ProviderTransactionRef == "" || payment.ProviderTransactionRef == cb.ProviderTransactionRef) {
			return payment, nil
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	return nil, models.ErrNoMatchingAttempt
}

// settleLocked runs verify, finalize and the paid side effect. The caller holds the target lock.
func (c *SettlementCoordinator) settleLocked(ctx context.Context, adapter gateway.Adapter, cb gateway.NormalizedCallback, paymentID string) (*SettlementResult, error) {
	payment, err := c.ledger.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.IsFinal() {
		util.DuplicateCallbacksTotal.WithLabelValues(string(payment.Gateway)).Inc()
		c.logger.Info("Duplicate callback absorbed",
			zap.String("payment_id", payment.ID),
			zap.String("status", string(payment.Status)))
		if payment.Status == models.PaymentSuccessful {
			if err := c.applyPaid(ctx, payment); err != nil {
				return nil, err
			}
		}
		return c.settledResult(payment, true), nil
	}

	outcome, err := adapter.Verify(ctx, cb, gateway.Expectation{PaymentID: payment.ID, Amount: payment.Amount})
	if err != nil {
		c.logger.Warn("Gateway verification unavailable, attempt left pending",
			zap.String("payment_id", payment.ID),
			zap.String("gateway", string(payment.Gateway)),
			zap.Error(err))
		return nil, err
	}
	if !outcome.Final() {
		c.logger.Info("Callback not confirmed by provider, attempt left pending",
			zap.String("payment_id", payment.ID),
			zap.String("gateway", string(payment.Gateway)),
			zap.String("reason", outcome.Message))
		result := c.settledResult(payment, false)
		result.Message = outcome.Message
		return result, nil
	}

	payment, applied, err := c.ledger.Finalize(ctx, payment.ID, cb.ProviderTransactionRef, outcome)
	if err != nil {
		return nil, err
	}
	if !applied {
		return c.settledResult(payment, true), nil
	}

	switch payment.Status {
	case models.PaymentSuccessful:
		if err := c.applyPaid(ctx, payment); err != nil {
			return nil, err
		}
	case models.PaymentFailed:
		c.publishPayment(ctx, models.EventTypePaymentFailed, payment, outcome.Message)
	}

	result := c.settledResult(payment, false)
	result.Message = outcome.Message
	return result, nil
}

// applyPaid marks the target paid. It is idempotent and only the call that
// actually changes the target publishes the paid notification.
func (c *SettlementCoordinator) applyPaid(ctx context.Context, payment *models.Payment) error {
	var (
		changed bool
		err     error
	)
	switch payment.TargetType {
	case models.TargetSetDesign:
		_, changed, err = c.workflow.ApplyPayment(ctx, payment.TargetID)
	case models.TargetOrder:
		changed, err = c.orders.MarkOrderPaid(ctx, payment.TargetID)
		if err == nil && changed {
			c.publishPayment(ctx, models.EventTypeOrderPaid, payment, "")
		}
	default:
		err = fmt.Errorf("payment %s has unknown target type %q", payment.ID, payment.TargetType)
	}
	if err != nil {
		c.logger.Error("Payment settled but target not marked paid",
			zap.String("payment_id", payment.ID),
			zap.String("target", payment.Target().LockKey()),
			zap.Error(err))
		return err
	}
	return nil
}

func (c *SettlementCoordinator) settledResult(payment *models.Payment, already bool) *SettlementResult {
	result := &SettlementResult{
		Success:        payment.Status == models.PaymentSuccessful,
		AlreadySettled: already,
		Status:         payment.Status,
		ReferenceCode:  payment.ReferenceCode,
		PaymentID:      payment.ID,
	}
	switch payment.TargetType {
	case models.TargetSetDesign:
		result.DesignID = payment.TargetID
	case models.TargetOrder:
		result.OrderID = payment.TargetID
	}

	switch {
	case payment.Status == models.PaymentSuccessful && already:
		result.Message = "payment already settled"
	case payment.Status == models.PaymentSuccessful:
		result.Message = "payment settled"
	case payment.FailureMessage != "":
		result.Message = payment.FailureMessage
	default:
		result.Message = "payment " + string(payment.Status)
	}
	return result
}

func (c *SettlementCoordinator) publishPayment(ctx context.Context, eventType string, payment *models.Payment, reason string) {
	event := &models.PaymentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		PaymentID:     payment.ID,
		TargetType:    payment.TargetType,
		TargetID:      payment.TargetID,
		Amount:        payment.Amount,
		Gateway:       payment.Gateway,
		ReferenceCode: payment.ReferenceCode,
		Reason:        reason,
	}
	if err := c.notifier.PublishPaymentEvent(ctx, event); err != nil {
		c.logger.Error("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.String("payment_id", payment.ID),
			zap.Error(err))
	}
}

func settlementLabel(r *SettlementResult) string {
	switch {
	case r.AlreadySettled:
		return "already_settled"
	case r.Status == models.PaymentPending:
		return "unconfirmed"
	case r.Success:
		return "settled"
	default:
		return string(r.Status)
	}
}
