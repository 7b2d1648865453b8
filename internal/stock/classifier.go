// Package stock classifies inventory lines into health tiers.
package stock

import "github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"

// Classify derives the tier of item. Critical wins over Low when both match.
func Classify(item models.StockItem) models.StockTier {
	switch {
	case item.QuantityOnHand <= 0:
		return models.StockTierCritical
	case item.ReorderPoint > 0 && item.QuantityOnHand <= item.ReorderPoint:
		return models.StockTierCritical
	case item.QuantityOnHand <= item.LowStockThreshold:
		return models.StockTierLow
	default:
		return models.StockTierInStock
	}
}

// NeedsReorder reports whether a reorder action should be offered. A reorder
// point of zero disables reorder tracking for the item.
func NeedsReorder(item models.StockItem) bool {
	return item.ReorderPoint > 0 && item.QuantityOnHand <= item.ReorderPoint
}

type Status struct {
	Item         models.StockItem `json:"item"`
	Tier         models.StockTier `json:"tier"`
	Color        models.Color     `json:"color"`
	NeedsReorder bool             `json:"needs_reorder"`
}

type Summary struct {
	Total         int `json:"total"`
	Critical      int `json:"critical"`
	Low           int `json:"low"`
	InStock       int `json:"in_stock"`
	ReorderNeeded int `json:"reorder_needed"`
}

func Evaluate(item models.StockItem) Status {
	tier := Classify(item)
	return Status{
		Item:         item,
		Tier:         tier,
		Color:        tier.Color(),
		NeedsReorder: NeedsReorder(item),
	}
}

// Summarize evaluates every item and tallies tiers for dashboard cards.
func Summarize(items []models.StockItem) ([]Status, Summary) {
	statuses := make([]Status, 0, len(items))
	sum := Summary{Total: len(items)}
	for _, it := range items {
		st := Evaluate(it)
		switch st.Tier {
		case models.StockTierCritical:
			sum.Critical++
		case models.StockTierLow:
			sum.Low++
		case models.StockTierInStock:
			sum.InStock++
		}
		if st.NeedsReorder {
			sum.ReorderNeeded++
		}
		statuses = append(statuses, st)
	}
	return statuses, sum
}
