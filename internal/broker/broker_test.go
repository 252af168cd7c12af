package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"design-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestEventPublisherRouting(t *testing.T) {
	w := &fakeWriter{}
	ep := NewEventPublisher(NewProducerWithWriter(w), "design-events", "payment-callbacks")
	ctx := context.Background()

	require.NoError(t, ep.PublishDesignEvent(ctx, &models.DesignEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeDesignApproved},
		DesignID:  "d-1",
		Status:    models.DesignCompleted,
	}))
	require.NoError(t, ep.PublishPaymentEvent(ctx, &models.PaymentEvent{
		BaseEvent:  models.BaseEvent{EventType: models.EventTypeOrderPaid},
		TargetType: models.TargetOrder,
		TargetID:   "o-1",
	}))
	require.NoError(t, ep.EnqueueCallback(ctx, &models.CallbackMessage{
		DeliveryID: "delivery-1",
		Gateway:    "providerA",
		Params:     map[string]string{"Authority": "A1", "Status": "OK"},
		ReceivedAt: time.Now(),
	}))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "design-events", w.msgs[0].Topic)
	assert.Equal(t, "design-d-1", string(w.msgs[0].Key))
	assert.Equal(t, "design-events", w.msgs[1].Topic)
	assert.Equal(t, "order-o-1", string(w.msgs[1].Key))
	assert.Equal(t, "payment-callbacks", w.msgs[2].Topic)
	assert.Equal(t, "delivery-1", string(w.msgs[2].Key))

	var cb models.CallbackMessage
	require.NoError(t, json.Unmarshal(w.msgs[2].Value, &cb))
	assert.Equal(t, "A1", cb.Params["Authority"])
}

func TestPublishFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	ep := NewEventPublisher(NewProducerWithWriter(w), "events", "callbacks")

	err := ep.PublishDesignEvent(context.Background(), &models.DesignEvent{DesignID: "d-1"})
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	lp := NewLogPublisher()
	assert.NoError(t, lp.PublishDesignEvent(context.Background(), &models.DesignEvent{DesignID: "d-1"}))
	assert.NoError(t, lp.PublishPaymentEvent(context.Background(), &models.PaymentEvent{PaymentID: "p-1"}))
}
