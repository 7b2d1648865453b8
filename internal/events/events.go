// Package events publishes fulfillment changes to Kafka and consumes them on
// the notification side.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusChangedTopic     = "fulfillment.order.status_changed"
	OrderRepricedTopic          = "fulfillment.order.repriced"
	AssignmentCancelledTopic    = "fulfillment.assignment.cancelled"
	CancellationCodeIssuedTopic = "fulfillment.cancellation.code_issued"
	NotificationsDLQTopic       = "fulfillment.notifications.dlq"
)

type OrderStatusChangedEvent struct {
	OrderID        string    `json:"order_id"`
	OrderNumber    string    `json:"order_number"`
	PatientID      string    `json:"patient_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Note           string    `json:"note"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
	EventTime      time.Time `json:"event_time"`
}

type OrderRepricedEvent struct {
	OrderID   string          `json:"order_id"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
	Warnings  []string        `json:"warnings,omitempty"`
	EventTime time.Time       `json:"event_time"`
}

type AssignmentCancelledEvent struct {
	AssignmentID string    `json:"assignment_id"`
	UserID       string    `json:"user_id"`
	Reason       string    `json:"reason"`
	CancelledAt  time.Time `json:"cancelled_at"`
	EventTime    time.Time `json:"event_time"`
}

// CancellationCodeIssuedEvent is consumed by the notifier, which texts the
// code to the customer. It is the only event that carries a code.
type CancellationCodeIssuedEvent struct {
	RequestID    string    `json:"request_id"`
	AssignmentID string    `json:"assignment_id"`
	UserID       string    `json:"user_id"`
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expires_at"`
	EventTime    time.Time `json:"event_time"`
}
