package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderFulfilled = "ORDER_FULFILLED"
	EventTypeOrderFailed    = "ORDER_FAILED"
	EventTypeOrderRefunded  = "ORDER_REFUNDED"

	EventTypePaymentConfirmed = "PAYMENT_CONFIRMED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypePaymentRefunded  = "PAYMENT_REFUNDED"
)

// Order failure reasons
const (
	FailureReasonOutOfStock = "out_of_stock"
	FailureReasonProvider   = "provider_allocation_failed"
	FailureReasonPayment    = "payment_failed"
	FailureReasonManual     = "manual"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderCreatedEvent published when an order enters pending
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	ProductID   int64           `json:"product_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// OrderFulfilledEvent published when an item has been allocated and the order completed
type OrderFulfilledEvent struct {
	BaseEvent
	OrderID  int64    `json:"order_id"`
	UserID   int64    `json:"user_id"`
	ItemKind ItemKind `json:"item_kind"`
	ItemID   int64    `json:"item_id"`
}

// OrderFailedEvent published when an order resolves to failed
type OrderFailedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderRefundedEvent published when a completed order is refunded
type OrderRefundedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// PaymentConfirmedEvent is produced by the payment gateway integration
type PaymentConfirmedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}

// PaymentFailedEvent is produced by the payment gateway integration
type PaymentFailedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentRefundedEvent is produced by the payment gateway integration
type PaymentRefundedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}
