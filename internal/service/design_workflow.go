package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"design-service/internal/lock"
	"design-service/internal/models"
	"design-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Workflow events
const (
	EventAssign   = "assign"
	EventSubmit   = "submit"
	EventApprove  = "approve"
	EventReject   = "reject"
	EventResubmit = "resubmit"
	EventRevise   = "revise"
	EventPay      = "pay"
)

// WorkflowOptions tunes business rules that vary per deployment
type WorkflowOptions struct {
	// AllowRevisionAfterCompletion lets an unpaid completed design go back to in_progress
	AllowRevisionAfterCompletion bool
}

// DesignWorkflow is the only writer of set designs. Every transition runs
// under the design's target lock and re-evaluates its guard against the
// state read inside the lock.
type DesignWorkflow struct {
	designs  DesignRepository
	orders   OrderAggregate
	ledger   *PaymentLedger
	locker   lock.Locker
	notifier Notifier
	opts     WorkflowOptions
	logger   *zap.Logger
	now      func() time.Time
}

// NewDesignWorkflow creates a new design workflow
func NewDesignWorkflow(
	designs DesignRepository,
	orders OrderAggregate,
	ledger *PaymentLedger,
	locker lock.Locker,
	notifier Notifier,
	opts WorkflowOptions,
) *DesignWorkflow {
	return &DesignWorkflow{
		designs:  designs,
		orders:   orders,
		ledger:   ledger,
		locker:   locker,
		notifier: notifier,
		opts:     opts,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// ApproveRequest is the single input for both approve and reject
type ApproveRequest struct {
	Approved bool
	Reason   string
}

// Validate requires a reason exactly when the design is rejected
func (r ApproveRequest) Validate() error {
	if !r.Approved && strings.TrimSpace(r.Reason) == "" {
		return models.ErrReasonRequired
	}
	return nil
}

func designTarget(id string) models.Target {
	return models.Target{Type: models.TargetSetDesign, ID: id}
}

// Create registers design work for an order in the waiting state
func (w *DesignWorkflow) Create(ctx context.Context, caller models.Identity, orderID string, price int64) (*models.SetDesign, error) {
	ctx, span := util.StartSpan(ctx, "DesignWorkflow.Create")
	defer span.End()

	if price < 0 {
		return nil, models.ErrInvalidAmount
	}
	if err := w.requireOrderOwner(ctx, caller, orderID); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	design := &models.SetDesign{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Version:   1,
		Status:    models.DesignWaiting,
		Price:     price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.designs.CreateDesign(ctx, design); err != nil {
		return nil, fmt.Errorf("failed to create set design: %w", err)
	}

	w.logger.Info("Set design created",
		zap.String("design_id", design.ID),
		zap.String("order_id", orderID),
		zap.Int64("price", price))
	return design, nil
}

// Get retrieves a set design
func (w *DesignWorkflow) Get(ctx context.Context, id string) (*models.SetDesign, error) {
	return w.designs.GetDesign(ctx, id)
}

// ListForOrder returns every set design of an order the caller may see
func (w *DesignWorkflow) ListForOrder(ctx context.Context, caller models.Identity, orderID string) ([]models.SetDesign, error) {
	if caller.Role != models.RoleDesigner {
		if err := w.requireOrderOwner(ctx, caller, orderID); err != nil {
			return nil, err
		}
	}
	return w.designs.GetDesignsByOrderID(ctx, orderID)
}

// Assign moves a waiting design to in_progress under designerID
func (w *DesignWorkflow) Assign(ctx context.Context, caller models.Identity, id, designerID string) (*models.SetDesign, error) {
	designerID = strings.TrimSpace(designerID)
	if designerID == "" {
		return nil, &models.TransitionError{DesignID: id, Event: EventAssign, Reason: "designer is required"}
	}
	if !caller.IsAdmin() && !(caller.Role == models.RoleDesigner && caller.UserID == designerID) {
		return nil, models.ErrForbidden
	}

	return w.transition(ctx, id, EventAssign, func(d *models.SetDesign) error {
		if d.Status != models.DesignWaiting {
			return w.invalid(d, EventAssign, "")
		}
		d.DesignerID = designerID
		d.Status = models.DesignInProgress
		return nil
	}, caller)
}

// Submit hands the produced artifact to the customer for review
func (w *DesignWorkflow) Submit(ctx context.Context, caller models.Identity, id, artifactRef string) (*models.SetDesign, error) {
	artifactRef = strings.TrimSpace(artifactRef)

	return w.transition(ctx, id, EventSubmit, func(d *models.SetDesign) error {
		if d.Status != models.DesignInProgress {
			return w.invalid(d, EventSubmit, "")
		}
		if !caller.IsAdmin() && caller.UserID != d.DesignerID {
			return models.ErrForbidden
		}
		if artifactRef == "" {
			return w.invalid(d, EventSubmit, "artifact is required")
		}
		d.ArtifactRef = artifactRef
		d.Status = models.DesignPendingApproval
		return nil
	}, caller)
}

// Approve is the single entry point for approving and rejecting a design under review
func (w *DesignWorkflow) Approve(ctx context.Context, caller models.Identity, id string, req ApproveRequest) (*models.SetDesign, error) {
	if err := req.Validate(); err != nil {
		util.DesignTransitionsRejected.WithLabelValues(EventReject).Inc()
		return nil, err
	}

	event := EventApprove
	if !req.Approved {
		event = EventReject
	}
	reason := strings.TrimSpace(req.Reason)

	return w.transition(ctx, id, event, func(d *models.SetDesign) error {
		if d.Status != models.DesignPendingApproval {
			return w.invalid(d, event, "")
		}
		if err := w.requireOrderOwner(ctx, caller, d.OrderID); err != nil {
			return err
		}
		if req.Approved {
			d.Status = models.DesignCompleted
			d.RejectionReason = ""
			return nil
		}
		d.Status = models.DesignRejected
		d.RejectionReason = reason
		return nil
	}, caller)
}

// Resubmit reopens a rejected design as a new version
func (w *DesignWorkflow) Resubmit(ctx context.Context, caller models.Identity, id string) (*models.SetDesign, error) {
	return w.transition(ctx, id, EventResubmit, func(d *models.SetDesign) error {
		if d.Status != models.DesignRejected {
			return w.invalid(d, EventResubmit, "")
		}
		if !caller.IsAdmin() && caller.UserID != d.DesignerID {
			return models.ErrForbidden
		}
		d.Version++
		d.RejectionReason = ""
		d.ArtifactRef = ""
		d.Status = models.DesignInProgress
		return nil
	}, caller)
}

// Revise reopens an unpaid completed design when the deployment allows it
func (w *DesignWorkflow) Revise(ctx context.Context, caller models.Identity, id string) (*models.SetDesign, error) {
	return w.transition(ctx, id, EventRevise, func(d *models.SetDesign) error {
		if !w.opts.AllowRevisionAfterCompletion {
			return w.invalid(d, EventRevise, "revision after completion is disabled")
		}
		if d.Status != models.DesignCompleted || d.Paid {
			return w.invalid(d, EventRevise, "")
		}
		if err := w.requireOrderOwner(ctx, caller, d.OrderID); err != nil {
			return err
		}
		pending, err := w.ledger.Pending(ctx, designTarget(d.ID))
		if err != nil {
			return err
		}
		if pending != nil {
			return w.invalid(d, EventRevise, "a payment is in progress")
		}
		d.Version++
		d.ArtifactRef = ""
		d.Status = models.DesignInProgress
		return nil
	}, caller)
}

// BeginPayment opens a settlement attempt for a completed, unpaid design.
// The caller must hold the design's target lock.
func (w *DesignWorkflow) BeginPayment(ctx context.Context, caller models.Identity, id string, gw models.Gateway, amount int64) (*models.Payment, error) {
	if !caller.CanPayWith(gw) {
		return nil, models.ErrForbidden
	}

	d, err := w.designs.GetDesign(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DesignCompleted {
		return nil, w.invalid(d, EventPay, "")
	}
	if d.Paid {
		return nil, w.invalid(d, EventPay, "already paid")
	}
	if d.Price <= 0 {
		return nil, w.invalid(d, EventPay, "design has no price")
	}
	if !caller.IsInternal() {
		if err := w.requireOrderOwner(ctx, caller, d.OrderID); err != nil {
			return nil, err
		}
	}
	if amount != d.Price {
		return nil, fmt.Errorf("%w: expected %d, got %d", models.ErrInvalidAmount, d.Price, amount)
	}

	payment, err := w.ledger.BeginAttempt(ctx, designTarget(d.ID), amount, gw)
	if err != nil {
		return nil, err
	}

	util.DesignTransitionsTotal.WithLabelValues(EventPay, "pending_payment").Inc()
	return payment, nil
}

// ApplyPayment marks a design paid. The caller must hold the design's target
// lock and must only call it for a successful payment. Reports whether the
// design changed.
func (w *DesignWorkflow) ApplyPayment(ctx context.Context, designID string) (*models.SetDesign, bool, error) {
	d, err := w.designs.GetDesign(ctx, designID)
	if err != nil {
		return nil, false, err
	}
	if d.Paid {
		return d, false, nil
	}
	if d.Status != models.DesignCompleted {
		return nil, false, w.invalid(d, EventPay, "design is not completed")
	}

	d.Paid = true
	d.UpdatedAt = w.now().UTC()
	if err := w.designs.UpdateDesign(ctx, d); err != nil {
		return nil, false, fmt.Errorf("failed to mark design paid: %w", err)
	}

	util.DesignTransitionsTotal.WithLabelValues(EventPay, "paid").Inc()
	w.logger.Info("Set design paid", zap.String("design_id", d.ID), zap.String("order_id", d.OrderID))
	w.publish(ctx, models.EventTypeDesignPaid, d, models.Identity{}, "")
	return d, true, nil
}

func (w *DesignWorkflow) transition(
	ctx context.Context,
	id, event string,
	apply func(d *models.SetDesign) error,
	caller models.Identity,
) (*models.SetDesign, error) {
	ctx, span := util.StartSpan(ctx, "DesignWorkflow."+event)
	defer span.End()

	release, err := w.locker.Acquire(ctx, designTarget(id).LockKey())
	if err != nil {
		return nil, err
	}
	defer release()

	d, err := w.designs.GetDesign(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := apply(d); err != nil {
		util.DesignTransitionsRejected.WithLabelValues(event).Inc()
		return nil, err
	}

	d.UpdatedAt = w.now().UTC()
	if err := w.designs.UpdateDesign(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to update set design: %w", err)
	}

	util.DesignTransitionsTotal.WithLabelValues(event, string(d.Status)).Inc()
	w.logger.Info("Set design transitioned",
		zap.String("design_id", d.ID),
		zap.String("event", event),
		zap.String("status", string(d.Status)),
		zap.Int("version", d.Version))

	if eventType, ok := designEventTypes[event]; ok {
		w.publish(ctx, eventType, d, caller, d.RejectionReason)
	}
	return d, nil
}

var designEventTypes = map[string]string{
	EventAssign:  models.EventTypeDesignAssigned,
	EventSubmit:  models.EventTypeDesignSubmitted,
	EventApprove: models.EventTypeDesignApproved,
	EventReject:  models.EventTypeDesignRejected,
}

func (w *DesignWorkflow) publish(ctx context.Context, eventType string, d *models.SetDesign, actor models.Identity, reason string) {
	event := &models.DesignEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: w.now().UTC(),
		},
		DesignID:   d.ID,
		OrderID:    d.OrderID,
		Version:    d.Version,
		Status:     d.Status,
		ActorID:    actor.UserID,
		Reason:     reason,
		DesignerID: d.DesignerID,
	}
	if err := w.notifier.PublishDesignEvent(ctx, event); err != nil {
		w.logger.Error("Failed to publish design event",
			zap.String("event_type", eventType),
			zap.String("design_id", d.ID),
			zap.Error(err))
	}
}

func (w *DesignWorkflow) invalid(d *models.SetDesign, event, reason string) error {
	return &models.TransitionError{DesignID: d.ID, From: d.Status, Event: event, Reason: reason}
}

func (w *DesignWorkflow) requireOrderOwner(ctx context.Context, caller models.Identity, orderID string) error {
	order, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
		}
		return err
	}
	if caller.IsAdmin() {
		return nil
	}
	if caller.Role != models.RoleCustomer || order.CustomerID != caller.UserID {
		return models.ErrForbidden
	}
	return nil
}
