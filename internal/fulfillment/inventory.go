package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/stock"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

var ErrInvalidStock = errors.New("invalid stock item")

type InventoryReport struct {
	Items   []stock.Status `json:"items"`
	Summary stock.Summary  `json:"summary"`
}

// InventoryFilter narrows a report. Empty fields match everything.
type InventoryFilter struct {
	Category    string
	Tier        models.StockTier
	ReorderOnly bool
}

func (f InventoryFilter) keep(st stock.Status) bool {
	if f.Category != "" && !strings.EqualFold(f.Category, st.Item.Category) {
		return false
	}
	if f.Tier != "" && f.Tier != st.Tier {
		return false
	}
	return !f.ReorderOnly || st.NeedsReorder
}

// Inventory classifies stored stock lines, most urgent first. The summary
// always covers the whole inventory.
func (s *Service) Inventory(ctx context.Context, filter InventoryFilter) (InventoryReport, error) {
	items, err := s.store.ListStock(ctx)
	if err != nil {
		return InventoryReport{}, fmt.Errorf("failed to list stock: %w", err)
	}
	statuses, summary := stock.Summarize(items)

	kept := make([]stock.Status, 0, len(statuses))
	for _, st := range statuses {
		if filter.keep(st) {
			kept = append(kept, st)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return tierRank(kept[i].Tier) < tierRank(kept[j].Tier)
	})
	return InventoryReport{Items: kept, Summary: summary}, nil
}

// Classify evaluates caller-supplied stock lines without storing them.
func (s *Service) Classify(items []models.StockItem) InventoryReport {
	statuses, summary := stock.Summarize(items)
	return InventoryReport{Items: statuses, Summary: summary}
}

func (s *Service) PutStock(ctx context.Context, item models.StockItem) (stock.Status, error) {
	if strings.TrimSpace(item.ID) == "" {
		return stock.Status{}, fmt.Errorf("%w: id is required", ErrInvalidStock)
	}
	if item.QuantityOnHand < 0 || item.ReorderPoint < 0 || item.LowStockThreshold <= 0 {
		return stock.Status{}, fmt.Errorf("%w: quantities for %s", ErrInvalidStock, item.ID)
	}
	if err := s.store.PutStock(ctx, item); err != nil {
		return stock.Status{}, fmt.Errorf("failed to save stock: %w", err)
	}
	return stock.Evaluate(item), nil
}

func tierRank(t models.StockTier) int {
	switch t {
	case models.StockTierCritical:
		return 0
	case models.StockTierLow:
		return 1
	default:
		return 2
	}
}
