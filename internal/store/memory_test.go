package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

func sampleOrder(id string, status models.OrderStatus, created time.Time) models.Order {
	return models.Order{
		ID:          id,
		OrderNumber: "ORD-" + id,
		Status:      status,
		Items:       []models.OrderItem{{ProductRef: "PRD001", Quantity: 1}},
		StatusHistory: []models.StatusChange{
			{Status: status, Timestamp: created, Note: "Order placed"},
		},
		CreatedAt: created,
	}
}

func TestMemoryStoreSaveOrderCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	order := sampleOrder("o1", models.OrderStatusPending, time.Now())
	require.NoError(t, s.CreateOrder(ctx, order))

	adminA, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	adminB, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)

	nextA := adminA.Clone()
	nextA.Status = models.OrderStatusConfirmed
	nextA.StatusHistory = append(nextA.StatusHistory, models.StatusChange{Status: models.OrderStatusConfirmed})
	require.NoError(t, s.SaveOrder(ctx, nextA, adminA.Version()))

	nextB := adminB.Clone()
	nextB.Status = models.OrderStatusCancelled
	nextB.StatusHistory = append(nextB.StatusHistory, models.StatusChange{Status: models.OrderStatusCancelled})
	assert.ErrorIs(t, s.SaveOrder(ctx, nextB, adminB.Version()), ErrStaleWrite)

	stored, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)

	assert.ErrorIs(t, s.SaveOrder(ctx, sampleOrder("missing", models.OrderStatusPending, time.Now()), models.Version{}), ErrNotFound)
}

func TestMemoryStoreSaveAdvancesRevision(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateOrder(ctx, sampleOrder("o1", models.OrderStatusPacked, time.Now())))

	adminA, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	adminB, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)

	// Neither edit touches status or history.
	nextA := adminA.Clone()
	nextA.DeliveryAddress.City = "Hyderabad"
	require.NoError(t, s.SaveOrder(ctx, nextA, adminA.Version()))

	nextB := adminB.Clone()
	nextB.Items[0].Quantity = 3
	assert.ErrorIs(t, s.SaveOrder(ctx, nextB, adminB.Version()), ErrStaleWrite)

	stored, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Revision)
	assert.Equal(t, "Hyderabad", stored.DeliveryAddress.City)
	assert.Equal(t, 1, stored.Items[0].Quantity)
	assert.NotEqual(t, adminA.Version(), stored.Version())
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	order := sampleOrder("o1", models.OrderStatusPending, time.Now())
	require.NoError(t, s.CreateOrder(ctx, order))

	order.Items[0].Quantity = 99
	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Items[0].Quantity)

	got.StatusHistory[0].Note = "tampered"
	again, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "Order placed", again.StatusHistory[0].Note)
}

func TestMemoryStoreListOrders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateOrder(ctx, sampleOrder("o1", models.OrderStatusPending, base)))
	require.NoError(t, s.CreateOrder(ctx, sampleOrder("o2", models.OrderStatusShipped, base.Add(time.Hour))))
	require.NoError(t, s.CreateOrder(ctx, sampleOrder("o3", models.OrderStatusPending, base.Add(2*time.Hour))))
	assert.ErrorIs(t, s.CreateOrder(ctx, sampleOrder("o1", models.OrderStatusPending, base)), ErrAlreadyExists)

	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"o3", "o2", "o1"}},
		{"all", []string{"o3", "o2", "o1"}},
		{"pending", []string{"o3", "o1"}},
		{"shipped", []string{"o2"}},
		{"returned", nil},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			orders, err := s.ListOrders(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, o := range orders {
				ids = append(ids, o.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryStoreAssignments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := models.PackageAssignment{ID: "a1", Status: models.AssignmentStatusActive}
	require.NoError(t, s.CreateAssignment(ctx, a))

	read, err := s.GetAssignment(ctx, "a1")
	require.NoError(t, err)
	next := read.Clone()
	next.Status = models.AssignmentStatusCancelled
	next.StatusHistory = append(next.StatusHistory, models.AssignmentStatusChange{Status: models.AssignmentStatusCancelled})
	require.NoError(t, s.SaveAssignment(ctx, next, read.Version()))
	assert.ErrorIs(t, s.SaveAssignment(ctx, next, read.Version()), ErrStaleWrite)

	cancelled, err := s.ListAssignments(ctx, string(models.AssignmentStatusCancelled))
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)

	_, err = s.GetAssignment(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreStock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutStock(ctx, models.StockItem{ID: "s2", Name: "Retinol Cream", QuantityOnHand: 4}))
	require.NoError(t, s.PutStock(ctx, models.StockItem{ID: "s1", Name: "Collagen Boost", QuantityOnHand: 9}))
	require.NoError(t, s.PutStock(ctx, models.StockItem{ID: "s2", Name: "Retinol Cream", QuantityOnHand: 12}))

	items, err := s.ListStock(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Collagen Boost", items[0].Name)
	assert.Equal(t, 12, items[1].QuantityOnHand)
}
