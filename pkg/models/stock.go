package models

import "github.com/shopspring/decimal"

// StockItem is a catalog/inventory line as exported by the inventory screens.
type StockItem struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Vendor            string          `json:"vendor"`
	QuantityOnHand    int             `json:"quantity_on_hand"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	ReorderPoint      int             `json:"reorder_point"`
	BuyingPrice       decimal.Decimal `json:"buying_price"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
}

// StockTier is derived from quantities and never stored.
type StockTier string

const (
	StockTierCritical StockTier = "Critical"
	StockTierLow      StockTier = "Low"
	StockTierInStock  StockTier = "InStock"
)

func (t StockTier) Color() Color {
	switch t {
	case StockTierCritical:
		return ColorRed
	case StockTierLow:
		return ColorYellow
	case StockTierInStock:
		return ColorGreen
	default:
		return ColorGray
	}
}
