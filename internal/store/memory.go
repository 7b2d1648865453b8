package store

import (
	"context"
	"sort"
	"sync"

	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

// MemoryStore keeps records in maps. Records are cloned on the way in and on
// the way out so callers never share slices with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]models.Order
	assignments map[string]models.PackageAssignment
	stock       map[string]models.StockItem
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]models.Order),
		assignments: make(map[string]models.PackageAssignment),
		stock:       make(map[string]models.StockItem),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) GetOrder(_ context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) ListOrders(_ context.Context, status string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if matchesStatus(status, string(o.Status)) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, order models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return ErrAlreadyExists
	}
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *MemoryStore) SaveOrder(_ context.Context, order models.Order, expected models.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version() != expected {
		return ErrStaleWrite
	}
	stored := order.Clone()
	stored.Revision = expected.Revision + 1
	m.orders[order.ID] = stored
	return nil
}

func (m *MemoryStore) GetAssignment(_ context.Context, id string) (models.PackageAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return models.PackageAssignment{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) ListAssignments(_ context.Context, status string) ([]models.PackageAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PackageAssignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		if matchesStatus(status, string(a.Status)) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateAssignment(_ context.Context, a models.PackageAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; ok {
		return ErrAlreadyExists
	}
	m.assignments[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) SaveAssignment(_ context.Context, a models.PackageAssignment, expected models.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.assignments[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version() != expected {
		return ErrStaleWrite
	}
	stored := a.Clone()
	stored.Revision = expected.Revision + 1
	m.assignments[a.ID] = stored
	return nil
}

func (m *MemoryStore) ListStock(context.Context) ([]models.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StockItem, 0, len(m.stock))
	for _, it := range m.stock {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) PutStock(_ context.Context, item models.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[item.ID] = item
	return nil
}
