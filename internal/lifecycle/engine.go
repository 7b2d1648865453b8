// Package lifecycle holds the order and package-assignment status graphs.
// Everything here is pure: operations take a record and return a new one,
// leaving the input untouched so callers can compare-and-swap the result.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

// forwardChain is the fulfillment sequence. Cancelled and Returned are
// branches and never appear here.
var forwardChain = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusConfirmed,
	models.OrderStatusProcessing,
	models.OrderStatusPacked,
	models.OrderStatusShipped,
	models.OrderStatusOutForDelivery,
	models.OrderStatusDelivered,
}

var assignmentEdges = map[models.AssignmentStatus][]models.AssignmentStatus{
	models.AssignmentStatusActive: {
		models.AssignmentStatusCompleted,
		models.AssignmentStatusCancelled,
		models.AssignmentStatusExpired,
	},
	models.AssignmentStatusCompleted: nil,
	models.AssignmentStatusCancelled: nil,
	models.AssignmentStatusExpired:   nil,
}

type Engine struct {
	strict  bool
	returns bool
	now     func() time.Time
	edges   map[models.OrderStatus][]models.OrderStatus
}

type Option func(*Engine)

// WithStrictSequence limits forward moves to the immediate successor.
// Without it an order may jump ahead, e.g. Pending straight to Shipped.
func WithStrictSequence() Option {
	return func(e *Engine) { e.strict = true }
}

// WithoutReturns makes Delivered fully terminal.
func WithoutReturns() Option {
	return func(e *Engine) { e.returns = false }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		returns: true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.edges = e.buildEdges()
	return e
}

func (e *Engine) buildEdges() map[models.OrderStatus][]models.OrderStatus {
	edges := make(map[models.OrderStatus][]models.OrderStatus, len(models.OrderStatuses))
	last := len(forwardChain) - 1
	for i, s := range forwardChain[:last] {
		var targets []models.OrderStatus
		if e.strict {
			targets = append(targets, forwardChain[i+1])
		} else {
			targets = append(targets, forwardChain[i+1:]...)
		}
		edges[s] = append(targets, models.OrderStatusCancelled)
	}
	if e.returns {
		edges[models.OrderStatusDelivered] = []models.OrderStatus{models.OrderStatusReturned}
	} else {
		edges[models.OrderStatusDelivered] = nil
	}
	edges[models.OrderStatusCancelled] = nil
	edges[models.OrderStatusReturned] = nil
	return edges
}

// IsTerminal reports whether s ends fulfillment. Delivered is terminal even
// when returns are enabled: nothing advances it, only the Returned branch
// leaves it.
func IsTerminal(s models.OrderStatus) bool {
	switch s {
	case models.OrderStatusDelivered, models.OrderStatusCancelled, models.OrderStatusReturned:
		return true
	default:
		return false
	}
}

// IsAssignmentTerminal reports whether an assignment can no longer change.
func IsAssignmentTerminal(s models.AssignmentStatus) bool {
	return s.Valid() && len(assignmentEdges[s]) == 0
}

// ItemsEditable reports whether line items may still change. Once an order
// ships or ends the item list is frozen.
func ItemsEditable(s models.OrderStatus) bool {
	switch s {
	case models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusProcessing, models.OrderStatusPacked:
		return true
	default:
		return false
	}
}

// NextStatus returns the single forward successor of current. It does not
// report branch statuses: Cancelled and Returned are legal targets but never
// "next".
func NextStatus(current models.OrderStatus) (models.OrderStatus, bool) {
	for i, s := range forwardChain {
		if s == current && i < len(forwardChain)-1 {
			return forwardChain[i+1], true
		}
	}
	return "", false
}

// LegalTargets lists every status current may move to, in chain order.
func (e *Engine) LegalTargets(current models.OrderStatus) []models.OrderStatus {
	return append([]models.OrderStatus(nil), e.edges[current]...)
}

func (e *Engine) CanReach(from, to models.OrderStatus) bool {
	for _, t := range e.edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves order to target. It returns ErrNoChange with the order
// unchanged when target equals the current non-terminal status, and
// ErrInvalidTransition for any edge missing from the graph. On success the
// returned order carries exactly one new history entry.
func (e *Engine) Transition(order models.Order, target models.OrderStatus, note string, fields Fields) (models.Order, error) {
	if !order.Status.Valid() {
		return order, fmt.Errorf("%w: %q", ErrUnknownStatus, order.Status)
	}
	if !target.Valid() {
		return order, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}

	if target == order.Status {
		if IsTerminal(order.Status) {
			return order, transitionError(string(order.Status), string(target))
		}
		return order, ErrNoChange
	}

	if !e.CanReach(order.Status, target) {
		return order, transitionError(string(order.Status), string(target))
	}

	if check := CheckOrder(order, target, fields); !check.Allowed {
		return order, check.Err(string(target))
	}

	next := order.Clone()
	next.Status = target
	if tn := strings.TrimSpace(fields.TrackingNumber); tn != "" {
		next.TrackingNumber = tn
	}
	if strings.TrimSpace(note) == "" {
		note = "Status updated to " + target.Name()
	}
	next.StatusHistory = append(next.StatusHistory, models.StatusChange{
		Status:    target,
		Timestamp: e.now().UTC(),
		Note:      note,
	})
	return next, nil
}

// TransitionAssignment moves a package assignment to target. Entering
// Cancelled needs a reason and a verified cancellation, and is refused once
// every service in the package has been delivered.
func (e *Engine) TransitionAssignment(a models.PackageAssignment, target models.AssignmentStatus, note string, fields Fields) (models.PackageAssignment, error) {
	if !a.Status.Valid() {
		return a, fmt.Errorf("%w: %q", ErrUnknownStatus, a.Status)
	}
	if !target.Valid() {
		return a, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}

	if target == a.Status {
		if IsAssignmentTerminal(a.Status) {
			return a, transitionError(string(a.Status), string(target))
		}
		return a, ErrNoChange
	}

	allowed := false
	for _, t := range assignmentEdges[a.Status] {
		if t == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return a, transitionError(string(a.Status), string(target))
	}

	if target == models.AssignmentStatusCancelled && a.CompletionPercentage() >= 100 {
		return a, fmt.Errorf("%w: all package services completed", ErrInvalidTransition)
	}

	if check := CheckAssignment(target, fields); !check.Allowed {
		return a, check.Err(string(target))
	}

	next := a.Clone()
	next.Status = target
	if target == models.AssignmentStatusCancelled {
		next.CancellationReason = strings.TrimSpace(fields.Reason)
		if strings.TrimSpace(note) == "" {
			note = next.CancellationReason
		}
	}
	if strings.TrimSpace(note) == "" {
		note = "Status updated to " + string(target)
	}
	next.StatusHistory = append(next.StatusHistory, models.AssignmentStatusChange{
		Status:    target,
		Timestamp: e.now().UTC(),
		Note:      note,
	})
	return next, nil
}
