package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/events"
)

var errNoRecipient = errors.New("event has no recipient")

// logDelivery stands in for the customer messaging channel. It records each
// notification it would send without ever writing a code to the log.
type logDelivery struct {
	logger *logrus.Logger
	now    func() time.Time
}

var _ events.NotificationHandler = (*logDelivery)(nil)

func newLogDelivery(logger *logrus.Logger) *logDelivery {
	return &logDelivery{logger: logger, now: time.Now}
}

func (d *logDelivery) HandleCodeIssued(ctx context.Context, event events.CancellationCodeIssuedEvent) error {
	if event.UserID == "" {
		return errNoRecipient
	}
	if !d.now().Before(event.ExpiresAt) {
		return events.ErrCodeTooStale
	}
	d.logger.WithFields(logrus.Fields{
		"user_id":       event.UserID,
		"assignment_id": event.AssignmentID,
		"request_id":    event.RequestID,
		"code":          mask(event.Code),
		"expires_at":    event.ExpiresAt,
	}).Info("Cancellation code delivered")
	return nil
}

func (d *logDelivery) HandleStatusChanged(ctx context.Context, event events.OrderStatusChangedEvent) error {
	if event.PatientID == "" {
		return errNoRecipient
	}
	fields := logrus.Fields{
		"patient_id":   event.PatientID,
		"order_id":     event.OrderID,
		"order_number": event.OrderNumber,
		"to_status":    event.To,
	}
	if event.TrackingNumber != "" {
		fields["tracking_number"] = event.TrackingNumber
	}
	d.logger.WithFields(fields).Info("Order status notification delivered")
	return nil
}

func (d *logDelivery) HandleAssignmentCancelled(ctx context.Context, event events.AssignmentCancelledEvent) error {
	if event.UserID == "" {
		return errNoRecipient
	}
	d.logger.WithFields(logrus.Fields{
		"user_id":       event.UserID,
		"assignment_id": event.AssignmentID,
	}).Info("Package cancellation notification delivered")
	return nil
}

func (d *logDelivery) IsRetryable(err error) bool {
	return !errors.Is(err, errNoRecipient) && !errors.Is(err, events.ErrCodeTooStale)
}

func mask(code string) string {
	return strings.Repeat("*", len(code))
}
