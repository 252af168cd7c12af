package models

import "time"

// Event types
const (
	EventTypeDesignAssigned  = "DESIGN_ASSIGNED"
	EventTypeDesignSubmitted = "DESIGN_SUBMITTED"
	EventTypeDesignApproved  = "DESIGN_APPROVED"
	EventTypeDesignRejected  = "DESIGN_REJECTED"
	EventTypeDesignPaid      = "DESIGN_PAID"
	EventTypeOrderPaid       = "ORDER_PAID"
	EventTypePaymentFailed   = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// DesignEvent is published after a successful set design transition
type DesignEvent struct {
	BaseEvent
	DesignID   string       `json:"design_id"`
	OrderID    string       `json:"order_id"`
	Version    int          `json:"version"`
	Status     DesignStatus `json:"status"`
	ActorID    string       `json:"actor_id,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	DesignerID string       `json:"designer_id,omitempty"`
}

// PaymentEvent is published once per payment finalization
type PaymentEvent struct {
	BaseEvent
	PaymentID     string     `json:"payment_id"`
	TargetType    TargetType `json:"target_type"`
	TargetID      string     `json:"target_id"`
	Amount        int64      `json:"amount"`
	Gateway       Gateway    `json:"gateway"`
	ReferenceCode string     `json:"reference_code,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// CallbackMessage is a queued gateway webhook delivery
type CallbackMessage struct {
	DeliveryID string            `json:"delivery_id"`
	Gateway    string            `json:"gateway,omitempty"`
	Params     map[string]string `json:"params"`
	ReceivedAt time.Time         `json:"received_at"`
}
