package models

import "time"

// Role of the caller as asserted by the upstream auth layer
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDesigner Role = "designer"
	RoleAdmin    Role = "admin"
	RoleInternal Role = "internal"
)

// Identity is the authenticated caller passed into every guarded operation
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller has administrative rights
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IsInternal reports whether the caller is another service acting on a customer's behalf
func (i Identity) IsInternal() bool {
	return i.Role == RoleInternal
}

// CanPayWith reports whether the caller may open an attempt on gw. The
// internal ledger moves no money, so only internal services and admins use it.
func (i Identity) CanPayWith(gw Gateway) bool {
	if gw == GatewayInternal {
		return i.IsInternal() || i.IsAdmin()
	}
	return i.UserID != ""
}

// Order is the owning aggregate of set designs and payments
type Order struct {
	ID          string    `db:"id" json:"id"`
	CustomerID  string    `db:"customer_id" json:"customer_id"`
	TotalAmount int64     `db:"total_amount" json:"total_amount"`
	Status      string    `db:"status" json:"status"`
	Paid        bool      `db:"paid" json:"paid"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
)

// DesignStatus is the lifecycle state of a set design
type DesignStatus string

const (
	DesignWaiting         DesignStatus = "waiting"
	DesignInProgress      DesignStatus = "in_progress"
	DesignPendingApproval DesignStatus = "pending_approval"
	DesignRejected        DesignStatus = "rejected"
	DesignCompleted       DesignStatus = "completed"
)

// SetDesign represents a produced design artifact tied to an order
type SetDesign struct {
	ID              string       `db:"id" json:"id"`
	OrderID         string       `db:"order_id" json:"order_id"`
	Version         int          `db:"version" json:"version"`
	DesignerID      string       `db:"designer_id" json:"designer_id,omitempty"`
	Status          DesignStatus `db:"status" json:"status"`
	Price           int64        `db:"price" json:"price"`
	Paid            bool         `db:"paid" json:"paid"`
	RejectionReason string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ArtifactRef     string       `db:"artifact_ref" json:"artifact_ref,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Gateway identifies a payment provider
type Gateway string

const (
	GatewayProviderA Gateway = "providerA"
	GatewayProviderB Gateway = "providerB"
	GatewayInternal  Gateway = "internal"
)

// Known reports whether g is a supported gateway
func (g Gateway) Known() bool {
	switch g {
	case GatewayProviderA, GatewayProviderB, GatewayInternal:
		return true
	}
	return false
}

// TargetType is what a payment settles
type TargetType string

const (
	TargetOrder     TargetType = "order"
	TargetSetDesign TargetType = "set_design"
)

// Target names the single aggregate a payment settles
type Target struct {
	Type TargetType
	ID   string
}

// LockKey is the per-target mutual exclusion key
func (t Target) LockKey() string {
	return string(t.Type) + ":" + t.ID
}

// PaymentStatus of a settlement attempt
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentSuccessful PaymentStatus = "successful"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// Payment represents a settlement attempt against one target
type Payment struct {
	ID                     string        `db:"id" json:"id"`
	TargetType             TargetType    `db:"target_type" json:"target_type"`
	TargetID               string        `db:"target_id" json:"target_id"`
	Amount                 int64         `db:"amount" json:"amount"`
	Gateway                Gateway       `db:"gateway" json:"gateway"`
	Status                 PaymentStatus `db:"status" json:"status"`
	ProviderTransactionRef string        `db:"provider_tx_ref" json:"provider_tx_ref,omitempty"`
	ReferenceCode          string        `db:"reference_code" json:"reference_code,omitempty"`
	FailureMessage         string        `db:"failure_message" json:"failure_message,omitempty"`
	VerifiedAt             *time.Time    `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// Target returns the aggregate this payment settles
func (p *Payment) Target() Target {
	return Target{Type: p.TargetType, ID: p.TargetID}
}

// IsFinal reports whether the payment has left pending
func (p *Payment) IsFinal() bool {
	return p.Status != PaymentPending
}
