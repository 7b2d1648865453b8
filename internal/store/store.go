// Package store persists orders, package assignments and stock lines.
// Writes of orders and assignments are compare-and-swap against the version
// the record was read at.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrStaleWrite    = errors.New("record changed since it was read")
	ErrAlreadyExists = errors.New("record already exists")
)

// StatusAll disables status filtering on list operations.
const StatusAll = "all"

type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (models.Order, error)
	// ListOrders returns orders newest first. An empty status or StatusAll
	// returns every order.
	ListOrders(ctx context.Context, status string) ([]models.Order, error)
	CreateOrder(ctx context.Context, order models.Order) error
	// SaveOrder replaces the stored order only if it is still at expected.
	SaveOrder(ctx context.Context, order models.Order, expected models.Version) error
}

type AssignmentRepository interface {
	GetAssignment(ctx context.Context, id string) (models.PackageAssignment, error)
	ListAssignments(ctx context.Context, status string) ([]models.PackageAssignment, error)
	CreateAssignment(ctx context.Context, a models.PackageAssignment) error
	SaveAssignment(ctx context.Context, a models.PackageAssignment, expected models.Version) error
}

type StockRepository interface {
	ListStock(ctx context.Context) ([]models.StockItem, error)
	PutStock(ctx context.Context, item models.StockItem) error
}

// Store is everything the fulfillment service persists.
type Store interface {
	OrderRepository
	AssignmentRepository
	StockRepository
	Ping(ctx context.Context) error
}

func isAll(filter string) bool {
	filter = strings.TrimSpace(filter)
	return filter == "" || strings.EqualFold(filter, StatusAll)
}

func matchesStatus(filter, status string) bool {
	return isAll(filter) || strings.TrimSpace(filter) == status
}
