package lifecycle

import (
	"strings"

	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

// Field is an input a transition may require in addition to the target status.
type Field string

const (
	FieldTrackingNumber       Field = "tracking_number"
	FieldCancellationReason   Field = "cancellation_reason"
	FieldVerifiedCancellation Field = "verified_cancellation"
)

// Fields carries the inputs supplied with a transition request.
type Fields struct {
	TrackingNumber string
	Reason         string
	// CancellationVerified is set only by the cancellation workflow once a
	// one-time code has been matched.
	CancellationVerified bool
}

// Check is the outcome of evaluating a transition's field requirements.
type Check struct {
	Allowed  bool    `json:"allowed"`
	Required []Field `json:"required"`
	Missing  []Field `json:"missing"`
}

// Err converts a failed check into a *FieldError.
func (c Check) Err(target string) error {
	if c.Allowed {
		return nil
	}
	return &FieldError{Target: target, Missing: c.Missing}
}

// RequiredFields reports the extra inputs needed to enter an order status.
func RequiredFields(target models.OrderStatus) []Field {
	switch target {
	case models.OrderStatusShipped, models.OrderStatusOutForDelivery:
		return []Field{FieldTrackingNumber}
	default:
		return nil
	}
}

// RequiredAssignmentFields reports the extra inputs needed to enter an
// assignment status.
func RequiredAssignmentFields(target models.AssignmentStatus) []Field {
	switch target {
	case models.AssignmentStatusCancelled:
		return []Field{FieldCancellationReason, FieldVerifiedCancellation}
	default:
		return nil
	}
}

// CheckOrder evaluates whether the supplied fields satisfy target's
// requirements. A tracking number already on the order counts as supplied.
// It never mutates order and is safe to call on every keystroke.
func CheckOrder(order models.Order, target models.OrderStatus, provided Fields) Check {
	required := RequiredFields(target)
	c := Check{Required: required}
	for _, f := range required {
		if f == FieldTrackingNumber && blank(provided.TrackingNumber) && blank(order.TrackingNumber) {
			c.Missing = append(c.Missing, f)
		}
	}
	c.Allowed = len(c.Missing) == 0
	return c
}

// CanTransition is CheckOrder reduced to a yes/no answer.
func CanTransition(order models.Order, target models.OrderStatus, provided Fields) bool {
	return CheckOrder(order, target, provided).Allowed
}

// CheckAssignment evaluates field requirements for an assignment transition.
func CheckAssignment(target models.AssignmentStatus, provided Fields) Check {
	required := RequiredAssignmentFields(target)
	c := Check{Required: required}
	for _, f := range required {
		switch f {
		case FieldCancellationReason:
			if blank(provided.Reason) {
				c.Missing = append(c.Missing, f)
			}
		case FieldVerifiedCancellation:
			if !provided.CancellationVerified {
				c.Missing = append(c.Missing, f)
			}
		}
	}
	c.Allowed = len(c.Missing) == 0
	return c
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
