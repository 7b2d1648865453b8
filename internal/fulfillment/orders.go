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
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/events"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/pricing"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/store"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/websocket"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

type NewOrder struct {
	OrderNumber     string               `json:"order_number"`
	PatientID       string               `json:"patient_id"`
	Items           []models.OrderItem   `json:"items"`
	PaymentStatus   models.PaymentStatus `json:"payment_status"`
	PaymentMethod   string               `json:"payment_method"`
	DeliveryAddress models.Address       `json:"delivery_address"`
	Notes           string               `json:"notes"`
	PriceOverrides
}

// PriceOverrides replaces the service policy for a single recomputation. Nil
// fields fall back to the service policy, or for the delivery charge to the
// order's current charge.
type PriceOverrides struct {
	Discount       *pricing.DiscountPolicy `json:"discount,omitempty"`
	Tax            *pricing.TaxPolicy      `json:"tax,omitempty"`
	DeliveryCharge *decimal.Decimal        `json:"delivery_charge,omitempty"`
}

type TransitionRequest struct {
	Status         models.OrderStatus `json:"status"`
	Note           string             `json:"note"`
	TrackingNumber string             `json:"tracking_number"`
	Expected       *models.Version    `json:"expected_version,omitempty"`
}

type TransitionResult struct {
	Order   models.Order `json:"order"`
	Changed bool         `json:"changed"`
}

type ItemsUpdate struct {
	Items    []models.OrderItem `json:"items"`
	Expected *models.Version    `json:"expected_version,omitempty"`
	PriceOverrides
}

type RepriceResult struct {
	Order    models.Order `json:"order"`
	Warnings []string     `json:"warnings"`
}

type DetailsUpdate struct {
	DeliveryAddress *models.Address `json:"delivery_address,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	Expected        *models.Version `json:"expected_version,omitempty"`
}

// TargetOption is a status an order may move to, with what it needs.
type TargetOption struct {
	models.StatusInfo
	Required []lifecycle.Field `json:"required"`
}

type StatusOptions struct {
	Current models.StatusInfo  `json:"current"`
	Next    *models.StatusInfo `json:"next"`
	Targets []TargetOption     `json:"targets"`
	Version models.Version     `json:"version"`
}

type TransitionCheck struct {
	Target models.StatusInfo `json:"target"`
	Legal  bool              `json:"legal"`
	lifecycle.Check
}

func (s *Service) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns orders in status, or every order for "all".
func (s *Service) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	status = strings.TrimSpace(status)
	if status != "" && !strings.EqualFold(status, store.StatusAll) && !models.OrderStatus(status).Valid() {
		return nil, fmt.Errorf("%w: %q", lifecycle.ErrUnknownStatus, status)
	}
	return s.store.ListOrders(ctx, status)
}

// CreateOrder stores a new Pending order with derived pricing and its first
// history entry.
func (s *Service) CreateOrder(ctx context.Context, in NewOrder) (RepriceResult, error) {
	res, err := pricing.Recompute(in.Items, s.discount(in.PriceOverrides), orDefault(in.DeliveryCharge, decimal.Zero), s.tax(in.PriceOverrides))
	if err != nil {
		return RepriceResult{}, err
	}

	now := time.Now().UTC()
	order := models.Order{
		ID:              uuid.New().String(),
		OrderNumber:     strings.TrimSpace(in.OrderNumber),
		PatientID:       in.PatientID,
		Status:          models.OrderStatusPending,
		Items:           append([]models.OrderItem(nil), in.Items...),
		Pricing:         res.Pricing,
		PaymentStatus:   in.PaymentStatus,
		PaymentMethod:   in.PaymentMethod,
		DeliveryAddress: in.DeliveryAddress,
		Notes:           in.Notes,
		CreatedAt:       now,
		StatusHistory: []models.StatusChange{{
			Status:    models.OrderStatusPending,
			Timestamp: now,
			Note:      "Order placed",
		}},
	}
	if order.OrderNumber == "" {
		order.OrderNumber = "ORD-" + strings.ToUpper(order.ID[:8])
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = models.PaymentStatusPending
	}
	if !order.PaymentStatus.Valid() {
		return RepriceResult{}, fmt.Errorf("%w: payment status %q", lifecycle.ErrUnknownStatus, order.PaymentStatus)
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return RepriceResult{}, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"items_count": len(order.Items),
		"total":       order.Pricing.Total.String(),
	}).Info("Order created")
	s.hub.Broadcast(websocket.TypeOrderUpdated, order.ID, order)

	return RepriceResult{Order: order, Warnings: warningMessages(res.Warnings)}, nil
}

// StatusOptions lists what the order can move to now.
func (s *Service) StatusOptions(ctx context.Context, id string) (StatusOptions, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return StatusOptions{}, err
	}

	opts := StatusOptions{Current: order.Status.Info(), Targets: []TargetOption{}, Version: order.Version()}
	if next, ok := lifecycle.NextStatus(order.Status); ok && s.engine.CanReach(order.Status, next) {
		info := next.Info()
		opts.Next = &info
	}
	for _, t := range s.engine.LegalTargets(order.Status) {
		opts.Targets = append(opts.Targets, TargetOption{StatusInfo: t.Info(), Required: lifecycle.RequiredFields(t)})
	}
	return opts, nil
}

// CheckTransition reports whether target is reachable and fillable with the
// given inputs. It changes nothing.
func (s *Service) CheckTransition(ctx context.Context, id string, target models.OrderStatus, fields lifecycle.Fields) (TransitionCheck, error) {
	if !target.Valid() {
		return TransitionCheck{}, fmt.Errorf("%w: %q", lifecycle.ErrUnknownStatus, target)
	}
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return TransitionCheck{}, err
	}
	check := lifecycle.CheckOrder(order, target, fields)
	legal := s.engine.CanReach(order.Status, target)
	if !legal {
		check.Allowed = false
	}
	return TransitionCheck{Target: target.Info(), Legal: legal, Check: check}, nil
}

// TransitionOrder moves the order to req.Status. A request for the status
// the order already has succeeds with Changed false and writes nothing.
func (s *Service) TransitionOrder(ctx context.Context, id string, req TransitionRequest) (TransitionResult, error) {
	current, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := checkVersion(req.Expected, current.Version()); err != nil {
		return TransitionResult{}, err
	}

	next, err := s.engine.Transition(current, req.Status, req.Note, lifecycle.Fields{TrackingNumber: req.TrackingNumber})
	if errors.Is(err, lifecycle.ErrNoChange) {
		return TransitionResult{Order: current, Changed: false}, nil
	}
	if err != nil {
		return TransitionResult{}, err
	}

	next.Revision = current.Revision + 1
	if err := s.store.SaveOrder(ctx, next, current.Version()); err != nil {
		return TransitionResult{}, fmt.Errorf("failed to save order: %w", err)
	}

	entry := next.StatusHistory[len(next.StatusHistory)-1]
	s.logger.WithFields(logrus.Fields{
		"order_id":    next.ID,
		"from_status": current.Status,
		"to_status":   next.Status,
		"history_len": len(next.StatusHistory),
	}).Info("Order status updated")

	event := events.OrderStatusChangedEvent{
		OrderID:        next.ID,
		OrderNumber:    next.OrderNumber,
		PatientID:      next.PatientID,
		From:           string(current.Status),
		To:             string(next.Status),
		Note:           entry.Note,
		TrackingNumber: next.TrackingNumber,
		ChangedAt:      entry.Timestamp,
	}
	if err := s.publisher.PublishStatusChanged(ctx, event); err != nil {
		s.logger.WithError(err).WithField("order_id", next.ID).Error("Failed to publish status changed event")
	}
	s.hub.Broadcast(websocket.TypeOrderStatusChanged, next.ID, event)

	return TransitionResult{Order: next, Changed: true}, nil
}

// AdvanceOrder moves the order to the next status in the forward chain.
func (s *Service) AdvanceOrder(ctx context.Context, id string, req TransitionRequest) (TransitionResult, error) {
	current, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	next, ok := lifecycle.NextStatus(current.Status)
	if !ok || lifecycle.IsTerminal(current.Status) {
		return TransitionResult{}, fmt.Errorf("%w: %s has no next status", lifecycle.ErrInvalidTransition, current.Status)
	}
	if req.Expected == nil {
		v := current.Version()
		req.Expected = &v
	}
	req.Status = next
	return s.TransitionOrder(ctx, id, req)
}

// UpdateItems replaces the item list and recomputes pricing. Items are frozen
// once the order has shipped or ended.
func (s *Service) UpdateItems(ctx context.Context, id string, update ItemsUpdate) (RepriceResult, error) {
	current, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return RepriceResult{}, err
	}
	if err := checkVersion(update.Expected, current.Version()); err != nil {
		return RepriceResult{}, err
	}
	if !lifecycle.ItemsEditable(current.Status) {
		return RepriceResult{}, fmt.Errorf("%w: items cannot change once an order is %s", lifecycle.ErrLocked, current.Status.Name())
	}

	res, err := pricing.Recompute(update.Items, s.discount(update.PriceOverrides), orDefault(update.DeliveryCharge, current.Pricing.DeliveryCharge), s.tax(update.PriceOverrides))
	if err != nil {
		return RepriceResult{}, err
	}

	next := current.Clone()
	next.Items = append([]models.OrderItem(nil), update.Items...)
	next.Pricing = res.Pricing
	next.Revision = current.Revision + 1
	if err := s.store.SaveOrder(ctx, next, current.Version()); err != nil {
		return RepriceResult{}, fmt.Errorf("failed to save order: %w", err)
	}

	warnings := warningMessages(res.Warnings)
	s.logger.WithFields(logrus.Fields{
		"order_id":    next.ID,
		"items_count": len(next.Items),
		"subtotal":    next.Pricing.Subtotal.String(),
		"total":       next.Pricing.Total.String(),
		"warnings":    len(warnings),
	}).Info("Order repriced")

	event := events.OrderRepricedEvent{
		OrderID:  next.ID,
		Subtotal: next.Pricing.Subtotal,
		Total:    next.Pricing.Total,
		Warnings: warnings,
	}
	if err := s.publisher.PublishRepriced(ctx, event); err != nil {
		s.logger.WithError(err).WithField("order_id", next.ID).Error("Failed to publish repriced event")
	}
	s.hub.Broadcast(websocket.TypeOrderRepriced, next.ID, event)

	return RepriceResult{Order: next, Warnings: warnings}, nil
}

// UpdateDetails edits the delivery address and notes. Both are frozen once
// the order reaches a terminal status.
func (s *Service) UpdateDetails(ctx context.Context, id string, update DetailsUpdate) (models.Order, error) {
	current, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if err := checkVersion(update.Expected, current.Version()); err != nil {
		return models.Order{}, err
	}
	if lifecycle.IsTerminal(current.Status) {
		return models.Order{}, fmt.Errorf("%w: order is %s", lifecycle.ErrLocked, current.Status.Name())
	}

	next := current.Clone()
	if update.DeliveryAddress != nil {
		next.DeliveryAddress = *update.DeliveryAddress
	}
	if update.Notes != nil {
		next.Notes = *update.Notes
	}
	next.Revision = current.Revision + 1
	if err := s.store.SaveOrder(ctx, next, current.Version()); err != nil {
		return models.Order{}, fmt.Errorf("failed to save order: %w", err)
	}

	s.logger.WithField("order_id", next.ID).Info("Order details updated")
	s.hub.Broadcast(websocket.TypeOrderUpdated, next.ID, next)
	return next, nil
}

func (s *Service) discount(p PriceOverrides) pricing.DiscountPolicy {
	if p.Discount != nil {
		return *p.Discount
	}
	return s.policy.Discount
}

func (s *Service) tax(p PriceOverrides) pricing.TaxPolicy {
	if p.Tax != nil {
		return *p.Tax
	}
	return s.policy.Tax
}
