package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/cancellation"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/events"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/pricing"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/store"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/websocket"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

var ErrUnknownService = errors.New("service is not part of the package")

type NewAssignment struct {
	UserID             string                  `json:"user_id"`
	PackageID          string                  `json:"package_id"`
	Services           []models.PackageService `json:"services"`
	OriginalAmount     decimal.Decimal         `json:"original_amount"`
	DiscountPercentage decimal.Decimal         `json:"discount_percentage"`
	Payment            models.Payment          `json:"payment"`
}

type AssignmentTransition struct {
	Status   models.AssignmentStatus `json:"status"`
	Note     string                  `json:"note"`
	Expected *models.Version         `json:"expected_version,omitempty"`
}

func (s *Service) GetAssignment(ctx context.Context, id string) (models.PackageAssignment, error) {
	return s.store.GetAssignment(ctx, id)
}

func (s *Service) ListAssignments(ctx context.Context, status string) ([]models.PackageAssignment, error) {
	status = strings.TrimSpace(status)
	if status != "" && !strings.EqualFold(status, store.StatusAll) && !models.AssignmentStatus(status).Valid() {
		return nil, fmt.Errorf("%w: %q", lifecycle.ErrUnknownStatus, status)
	}
	return s.store.ListAssignments(ctx, status)
}

// CreateAssignment sells a package to a customer at a discount of at most
// pricing.MaxPackageDiscount percent.
func (s *Service) CreateAssignment(ctx context.Context, in NewAssignment) (models.PackageAssignment, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.PackageID) == "" {
		return models.PackageAssignment{}, fmt.Errorf("%w: user_id and package_id are required", lifecycle.ErrMissingRequiredField)
	}
	price, err := pricing.Package(in.OriginalAmount, in.DiscountPercentage)
	if err != nil {
		return models.PackageAssignment{}, err
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	a := models.PackageAssignment{
		ID:                id,
		AssignmentNumber:  "PKG-" + strings.ToUpper(id[:8]),
		UserID:            in.UserID,
		PackageID:         in.PackageID,
		Services:          append([]models.PackageService(nil), in.Services...),
		CompletedServices: []models.CompletedService{},
		Pricing:           price,
		Payment:           in.Payment,
		Status:            models.AssignmentStatusActive,
		CreatedAt:         now,
		StatusHistory: []models.AssignmentStatusChange{{
			Status:    models.AssignmentStatusActive,
			Timestamp: now,
			Note:      "Package assigned",
		}},
	}
	if err := s.store.CreateAssignment(ctx, a); err != nil {
		return models.PackageAssignment{}, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"assignment_id": a.ID,
		"user_id":       a.UserID,
		"final_amount":  a.Pricing.FinalAmount.String(),
	}).Info("Package assigned")
	return a, nil
}

// CompleteService records delivery of one service in the package.
// Completing a service twice is a no-op.
func (s *Service) CompleteService(ctx context.Context, id, serviceID string) (models.PackageAssignment, error) {
	current, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return models.PackageAssignment{}, err
	}
	if lifecycle.IsAssignmentTerminal(current.Status) {
		return models.PackageAssignment{}, fmt.Errorf("%w: package is %s", lifecycle.ErrLocked, current.Status)
	}

	known := false
	for _, svc := range current.Services {
		if svc.ServiceID == serviceID {
			known = true
			break
		}
	}
	if !known {
		return models.PackageAssignment{}, fmt.Errorf("%w: %s", ErrUnknownService, serviceID)
	}
	for _, done := range current.CompletedServices {
		if done.ServiceID == serviceID {
			return current, nil
		}
	}

	next := current.Clone()
	next.CompletedServices = append(next.CompletedServices, models.CompletedService{ServiceID: serviceID, CompletedAt: time.Now().UTC()})
	next.Revision = current.Revision + 1
	if err := s.store.SaveAssignment(ctx, next, current.Version()); err != nil {
		return models.PackageAssignment{}, fmt.Errorf("failed to save assignment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"assignment_id": next.ID,
		"service_id":    serviceID,
		"completion":    next.CompletionPercentage(),
	}).Info("Package service completed")
	s.hub.Broadcast(websocket.TypeAssignmentUpdated, next.ID, next)
	return next, nil
}

// TransitionAssignment moves a package to Completed or Expired. Cancelled is
// only reachable through VerifyCancellation.
func (s *Service) TransitionAssignment(ctx context.Context, id string, req AssignmentTransition) (models.PackageAssignment, bool, error) {
	current, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return models.PackageAssignment{}, false, err
	}
	if err := checkVersion(req.Expected, current.Version()); err != nil {
		return models.PackageAssignment{}, false, err
	}

	next, err := s.engine.TransitionAssignment(current, req.Status, req.Note, lifecycle.Fields{})
	if errors.Is(err, lifecycle.ErrNoChange) {
		return current, false, nil
	}
	if err != nil {
		return models.PackageAssignment{}, false, err
	}
	next.Revision = current.Revision + 1
	if err := s.store.SaveAssignment(ctx, next, current.Version()); err != nil {
		return models.PackageAssignment{}, false, fmt.Errorf("failed to save assignment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"assignment_id": next.ID,
		"from_status":   current.Status,
		"to_status":     next.Status,
		"history_len":   len(next.StatusHistory),
	}).Info("Assignment status updated")
	s.hub.Broadcast(websocket.TypeAssignmentUpdated, next.ID, next)
	return next, true, nil
}

// RequestCancellation opens a cancellation request and sends the customer a
// one-time code.
func (s *Service) RequestCancellation(ctx context.Context, id, reason string) (cancellation.Pending, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return cancellation.Pending{}, err
	}
	pending, err := s.cancels.RequestCancellation(ctx, a, reason)
	if err != nil {
		return cancellation.Pending{}, err
	}
	s.hub.Broadcast(websocket.TypeCancellationPending, a.ID, pending)
	return pending, nil
}

// VerifyCancellation checks the code and, on a match, cancels the package.
// The request is consumed before the write, so a StaleWrite here means the
// operator must reload and request a new code.
func (s *Service) VerifyCancellation(ctx context.Context, id, code string) (models.PackageAssignment, error) {
	current, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return models.PackageAssignment{}, err
	}

	next, err := s.cancels.VerifyCode(ctx, current, code)
	if err != nil {
		return models.PackageAssignment{}, err
	}
	next.Revision = current.Revision + 1
	if err := s.store.SaveAssignment(ctx, next, current.Version()); err != nil {
		s.logger.WithError(err).WithField("assignment_id", id).Error("Verified cancellation could not be saved")
		return models.PackageAssignment{}, fmt.Errorf("failed to save assignment: %w", err)
	}

	entry := next.StatusHistory[len(next.StatusHistory)-1]
	event := events.AssignmentCancelledEvent{
		AssignmentID: next.ID,
		UserID:       next.UserID,
		Reason:       next.CancellationReason,
		CancelledAt:  entry.Timestamp,
	}
	if err := s.publisher.PublishAssignmentCancelled(ctx, event); err != nil {
		s.logger.WithError(err).WithField("assignment_id", next.ID).Error("Failed to publish assignment cancelled event")
	}
	s.hub.Broadcast(websocket.TypeAssignmentCancelled, next.ID, event)
	return next, nil
}

func (s *Service) AbandonCancellation(ctx context.Context, id string) (cancellation.Pending, error) {
	if _, err := s.store.GetAssignment(ctx, id); err != nil {
		return cancellation.Pending{}, err
	}
	return s.cancels.Abandon(ctx, id)
}

func (s *Service) CancellationStatus(ctx context.Context, id string) (cancellation.Pending, error) {
	if _, err := s.store.GetAssignment(ctx, id); err != nil {
		return cancellation.Pending{}, err
	}
	return s.cancels.Status(ctx, id)
}
