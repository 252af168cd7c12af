package service

import (
	"context"
	"fmt"
	"time"

	"design-service/internal/gateway"
	"design-service/internal/models"
	"design-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentLedger is the single source of truth for whether an attempt has
// been settled. Callers hold the target lock around every mutation.
type PaymentLedger struct {
	payments PaymentRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentLedger creates a new payment ledger
func NewPaymentLedger(payments PaymentRepository) *PaymentLedger {
	return &PaymentLedger{
		payments: payments,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// BeginAttempt creates a pending payment for target
func (l *PaymentLedger) BeginAttempt(ctx context.Context, target models.Target, amount int64, gw models.Gateway) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentLedger.BeginAttempt")
	defer span.End()

	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if !gw.Known() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownGateway, gw)
	}

	pending, err := l.payments.GetPendingPayment(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending attempts: %w", err)
	}
	if pending != nil {
		l.logger.Info("Pending attempt already exists",
			zap.String("target", target.LockKey()),
			zap.String("payment_id", pending.ID))
		return nil, models.ErrDuplicatePendingAttempt
	}

	now := l.now().UTC()
	payment := &models.Payment{
		ID:         uuid.New().String(),
		TargetType: target.Type,
		TargetID:   target.ID,
		Amount:     amount,
		Gateway:    gw,
		Status:     models.PaymentPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := l.payments.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	util.PaymentAttemptsTotal.WithLabelValues(string(gw), string(target.Type)).Inc()
	l.logger.Info("Payment attempt started",
		zap.String("payment_id", payment.ID),
		zap.String("target", target.LockKey()),
		zap.String("gateway", string(gw)),
		zap.Int64("amount", amount))

	return payment, nil
}

// AttachReference records the provider reference handed out at initiation.
// The (gateway, reference) pair is the idempotency key later callbacks are matched by.
func (l *PaymentLedger) AttachReference(ctx context.Context, paymentID, ref string) (*models.Payment, error) {
	payment, err := l.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.ProviderTransactionRef == ref {
		return payment, nil
	}
	if payment.IsFinal() {
		return nil, fmt.Errorf("payment %s is already %s", payment.ID, payment.Status)
	}
	if payment.ProviderTransactionRef != "" {
		return nil, fmt.Errorf("payment %s already has provider reference %s", payment.ID, payment.ProviderTransactionRef)
	}

	payment.ProviderTransactionRef = ref
	payment.UpdatedAt = l.now().UTC()
	if err := l.payments.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to attach provider reference: %w", err)
	}
	return payment, nil
}

// Finalize applies a verification outcome once. A payment that already left
// pending is returned unchanged with applied=false, which is how replayed
// callbacks are absorbed.
func (l *PaymentLedger) Finalize(ctx context.Context, paymentID, ref string, outcome gateway.VerificationOutcome) (*models.Payment, bool, error) {
	ctx, span := util.StartSpan(ctx, "PaymentLedger.Finalize")
	defer span.End()

	payment, err := l.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}

	if payment.IsFinal() {
		util.DuplicateCallbacksTotal.WithLabelValues(string(payment.Gateway)).Inc()
		l.logger.Info("Payment already settled, outcome ignored",
			zap.String("payment_id", payment.ID),
			zap.String("status", string(payment.Status)))
		return payment, false, nil
	}

	now := l.now().UTC()
	if outcome.Success {
		payment.Status = models.PaymentSuccessful
		payment.ReferenceCode = outcome.ReferenceCode
	} else {
		payment.Status = models.PaymentFailed
		payment.FailureMessage = outcome.Message
	}
	if payment.ProviderTransactionRef == "" {
		payment.ProviderTransactionRef = ref
	}
	payment.VerifiedAt = &now
	payment.UpdatedAt = now

	if err := l.payments.UpdatePayment(ctx, payment); err != nil {
		return nil, false, fmt.Errorf("failed to finalize payment: %w", err)
	}

	util.PaymentsFinalizedTotal.WithLabelValues(string(payment.Gateway), string(payment.Status)).Inc()
	l.logger.Info("Payment finalized",
		zap.String("payment_id", payment.ID),
		zap.String("status", string(payment.Status)),
		zap.String("provider_ref", payment.ProviderTransactionRef),
		zap.String("reference_code", payment.ReferenceCode))

	return payment, true, nil
}

// Cancel moves a pending payment to cancelled. Already final payments are returned unchanged.
func (l *PaymentLedger) Cancel(ctx context.Context, paymentID, reason string) (*models.Payment, bool, error) {
	payment, err := l.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	if payment.IsFinal() {
		return payment, false, nil
	}

	payment.Status = models.PaymentCancelled
	payment.FailureMessage = reason
	payment.UpdatedAt = l.now().UTC()
	if err := l.payments.UpdatePayment(ctx, payment); err != nil {
		return nil, false, fmt.Errorf("failed to cancel payment: %w", err)
	}

	util.PaymentsFinalizedTotal.WithLabelValues(string(payment.Gateway), string(payment.Status)).Inc()
	return payment, true, nil
}

// Get retrieves a payment by id
func (l *PaymentLedger) Get(ctx context.Context, paymentID string) (*models.Payment, error) {
	return l.payments.GetPayment(ctx, paymentID)
}

// FindByReference looks a payment up by its idempotency key
func (l *PaymentLedger) FindByReference(ctx context.Context, gw models.Gateway, ref string) (*models.Payment, error) {
	return l.payments.GetPaymentByReference(ctx, gw, ref)
}

// Pending returns the unresolved attempt for target, or nil
func (l *PaymentLedger) Pending(ctx context.Context, target models.Target) (*models.Payment, error) {
	return l.payments.GetPendingPayment(ctx, target)
}

// StalePending lists pending attempts created more than age ago
func (l *PaymentLedger) StalePending(ctx context.Context, age time.Duration, limit int) ([]models.Payment, error) {
	return l.payments.ListPendingBefore(ctx, l.now().Add(-age), limit)
}
