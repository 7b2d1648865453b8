// Package fulfillment applies lifecycle, pricing and cancellation rules to
// stored records. Every mutation loads the current record, derives the next
// one in memory and writes it back compare-and-swap, so two operators acting
// on the same record cannot silently overwrite each other.
package fulfillment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/audit"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/cancellation"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/events"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/pricing"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/store"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

// Publisher receives committed changes.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, event events.OrderStatusChangedEvent) error
	PublishRepriced(ctx context.Context, event events.OrderRepricedEvent) error
	PublishAssignmentCancelled(ctx context.Context, event events.AssignmentCancelledEvent) error
}

// Broadcaster pushes live updates to connected screens.
type Broadcaster interface {
	Broadcast(messageType, recordID string, data interface{})
}

// Policy is the pricing applied when an item edit does not name its own.
type Policy struct {
	Discount pricing.DiscountPolicy
	Tax      pricing.TaxPolicy
}

type Service struct {
	store     store.Store
	engine    *lifecycle.Engine
	cancels   *cancellation.Workflow
	publisher Publisher
	hub       Broadcaster
	analyzer  *audit.Analyzer
	policy    Policy
	logger    *logrus.Logger
}

type Option func(*Service)

func WithBroadcaster(hub Broadcaster) Option {
	return func(s *Service) { s.hub = hub }
}

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

func NewService(st store.Store, engine *lifecycle.Engine, cancels *cancellation.Workflow, publisher Publisher, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		engine:    engine,
		cancels:   cancels,
		publisher: publisher,
		hub:       nopBroadcaster{},
		analyzer:  audit.NewAnalyzer(engine, logger),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, string, interface{}) {}

// checkVersion rejects a request made against a version the caller no
// longer holds. A nil expected version skips the check.
func checkVersion(expected *models.Version, current models.Version) error {
	if expected == nil || *expected == current {
		return nil
	}
	return fmt.Errorf("%w: read at %s, now %s", store.ErrStaleWrite, expected, current)
}

func warningMessages(ws []error) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Error())
	}
	return out
}

func orDefault(d *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if d == nil {
		return fallback
	}
	return *d
}

// Audit checks every stored order and assignment for integrity problems.
func (s *Service) Audit(ctx context.Context) (*audit.Result, error) {
	orders, err := s.store.ListOrders(ctx, store.StatusAll)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	assignments, err := s.store.ListAssignments(ctx, store.StatusAll)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return s.analyzer.Audit(orders, assignments), nil
}

func (s *Service) Report(result *audit.Result, format string) ([]byte, error) {
	return s.analyzer.Report(result, format)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
