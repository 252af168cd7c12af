package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"design-service/internal/broker"
	"design-service/internal/models"
	"design-service/internal/service"
	"design-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Settler is the coordinator entry point the callback worker drives
type Settler interface {
	Settle(ctx context.Context, req service.CallbackRequest) (*service.SettlementResult, error)
}

// CallbackWorker settles webhook deliveries queued on Kafka
type CallbackWorker struct {
	consumer *broker.Consumer
	settler  Settler
	logger   *zap.Logger
}

// NewCallbackWorker creates a new callback worker
func NewCallbackWorker(consumer *broker.Consumer, settler Settler) *CallbackWorker {
	return &CallbackWorker{
		consumer: consumer,
		settler:  settler,
		logger:   util.GetLogger(),
	}
}

// Start starts the worker
func (w *CallbackWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting callback worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *CallbackWorker) Stop() error {
	w.logger.Info("Stopping callback worker")
	return w.consumer.Close()
}

// HandleMessage settles one queued callback. Only retriable failures are
// returned, which leaves the message uncommitted for redelivery; malformed,
// stale and rejected callbacks are acknowledged.
func (w *CallbackWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var cb models.CallbackMessage
	if err := json.Unmarshal(msg.Value, &cb); err != nil {
		w.logger.Warn("Dropping undecodable callback", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	result, err := w.settler.Settle(ctx, service.CallbackRequest{Gateway: cb.Gateway, Params: cb.Params})
	if err != nil {
		if retriable(err) {
			return err
		}
		w.logger.Warn("Callback not settled",
			zap.String("delivery_id", cb.DeliveryID),
			zap.String("gateway", cb.Gateway),
			zap.Error(err))
		return nil
	}

	w.logger.Info("Callback settled",
		zap.String("delivery_id", cb.DeliveryID),
		zap.String("payment_id", result.PaymentID),
		zap.Bool("success", result.Success),
		zap.Bool("already_settled", result.AlreadySettled))
	return nil
}

func retriable(err error) bool {
	return errors.Is(err, models.ErrBusy) || errors.Is(err, models.ErrGatewayUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Canceller is the ledger surface the sweeper needs
type Canceller interface {
	CancelStale(ctx context.Context, age time.Duration, limit int) (int, error)
}

const defaultSweepInterval = time.Minute

// PaymentSweeper periodically cancels pending attempts that were never settled
type PaymentSweeper struct {
	canceller Canceller
	interval  time.Duration
	age       time.Duration
	batch     int
	logger    *zap.Logger
	done      chan struct{}
}

// NewPaymentSweeper creates a sweeper cancelling attempts older than age every interval
func NewPaymentSweeper(canceller Canceller, interval, age time.Duration) *PaymentSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &PaymentSweeper{
		canceller: canceller,
		interval:  interval,
		age:       age,
		batch:     100,
		logger:    util.GetLogger(),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is done
func (s *PaymentSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting payment sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("age", s.age))
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce cancels one batch of stale attempts
func (s *PaymentSweeper) SweepOnce(ctx context.Context) int {
	n, err := s.canceller.CancelStale(ctx, s.age, s.batch)
	if err != nil {
		s.logger.Error("Payment sweep failed", zap.Error(err))
	}
	if n > 0 {
		s.logger.Info("Cancelled stale payment attempts", zap.Int("count", n))
	}
	return n
}

// Stop waits for the sweep loop to exit
func (s *PaymentSweeper) Stop() {
	<-s.done
}
