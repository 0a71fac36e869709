package types

import "github.com/shopspring/decimal"

// Lot is a unit of inventory created by a buy execution. Sells consume lots
// in FIFO order; a partially consumed lot keeps its id with reduced quantity
// and proportionally reduced fees.
type Lot struct {
	ID    string          `json:"id"` // orderId-executionId
	Qty   decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`
	Fees  decimal.Decimal `json:"fees"`
}

// SymbolPnl is the per-symbol profit-and-loss summary.
type SymbolPnl struct {
	Symbol        string          `json:"symbol"`
	PositionQty   decimal.Decimal `json:"positionQty"`
	AvgCost       decimal.Decimal `json:"avgCost"`
	MarketPrice   decimal.Decimal `json:"marketPrice"`
	RealizedPnl   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
	OpenLots      []Lot           `json:"openLots"`
}

// PnlResult aggregates realized and unrealized PnL across symbols.
type PnlResult struct {
	BySymbol        map[string]SymbolPnl `json:"bySymbol"`
	TotalRealized   decimal.Decimal      `json:"totalRealized"`
	TotalUnrealized decimal.Decimal      `json:"totalUnrealized"`
	TotalNet        decimal.Decimal      `json:"totalNet"` // realized + unrealized
}
