// Package pnl computes realized and unrealized profit and loss per user with
// FIFO lot matching. Buy executions open lots; sell executions consume them
// head first, allocating fees in proportion to the matched quantity.
package pnl

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/types"
)

const priceScale = 8

type Engine struct {
	db *orders.Database
}

func NewEngine(gormDB *gorm.DB) *Engine {
	return &Engine{db: orders.NewDatabase(gormDB)}
}

// Calculate runs the FIFO matcher over the user's full execution history.
// marketPrices supplies the mark per symbol for unrealized PnL; a symbol
// without a mark is valued at zero.
func (e *Engine) Calculate(userID uint64, marketPrices map[string]decimal.Decimal) (*types.PnlResult, error) {
	orderList, err := e.db.ListOrdersByUserChronological(userID)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	queues := make(map[string][]types.Lot)
	realized := make(map[string]decimal.Decimal)

	for i := range orderList {
		order := &orderList[i]
		symbol := symbolOf(order)
		for _, item := range order.Items {
			switch order.Side {
			case types.SideBuy:
				queues[symbol] = append(queues[symbol], types.Lot{
					ID:    fmt.Sprintf("%d-%d", order.ID, item.ID),
					Qty:   item.Quantity,
					Price: item.ExecutedPrice,
					Fees:  item.Fees,
				})
			case types.SideSell:
				if len(queues[symbol]) == 0 {
					log.Warn().
						Uint64("user_id", userID).
						Str("symbol", symbol).
						Uint("order_id", order.ID).
						Msg("sell execution without matching buy lots, skipping")
					continue
				}
				gain, remaining := matchSell(queues[symbol], item.Quantity, item.ExecutedPrice, item.Fees)
				queues[symbol] = remaining
				realized[symbol] = realized[symbol].Add(gain)
			}
		}
	}

	result := &types.PnlResult{BySymbol: make(map[string]types.SymbolPnl)}
	for symbol := range queues {
		summary := summarize(symbol, queues[symbol], realized[symbol], marketPrices[symbol])
		result.BySymbol[symbol] = summary
		result.TotalRealized = result.TotalRealized.Add(summary.RealizedPnl)
		result.TotalUnrealized = result.TotalUnrealized.Add(summary.UnrealizedPnl)
	}
	// Symbols that sold down to zero still carry realized PnL.
	for symbol, gain := range realized {
		if _, seen := result.BySymbol[symbol]; seen {
			continue
		}
		result.BySymbol[symbol] = types.SymbolPnl{
			Symbol:      symbol,
			MarketPrice: marketPrices[symbol],
			RealizedPnl: gain,
		}
		result.TotalRealized = result.TotalRealized.Add(gain)
	}
	result.TotalNet = result.TotalRealized.Add(result.TotalUnrealized)
	return result, nil
}

// matchSell consumes lots head first until the sell quantity is exhausted.
// It returns the realized gain net of allocated fees and the surviving queue.
func matchSell(queue []types.Lot, sellQty, sellPrice, sellFees decimal.Decimal) (decimal.Decimal, []types.Lot) {
	realized := decimal.Zero
	remaining := sellQty

	for len(queue) > 0 && remaining.IsPositive() {
		lot := queue[0]
		matched := decimal.Min(lot.Qty, remaining)

		buyFeeAlloc := decimal.Zero
		if lot.Qty.IsPositive() {
			buyFeeAlloc = lot.Fees.Mul(matched).DivRound(lot.Qty, priceScale)
		}
		sellFeeAlloc := decimal.Zero
		if sellQty.IsPositive() {
			sellFeeAlloc = sellFees.Mul(matched).DivRound(sellQty, priceScale)
		}

		realized = realized.Add(sellPrice.Sub(lot.Price).Mul(matched)).Sub(buyFeeAlloc).Sub(sellFeeAlloc)
		remaining = remaining.Sub(matched)

		if matched.Equal(lot.Qty) {
			queue = queue[1:]
		} else {
			lot.Qty = lot.Qty.Sub(matched)
			lot.Fees = lot.Fees.Sub(buyFeeAlloc)
			queue[0] = lot
		}
	}
	return realized, queue
}

// summarize folds a symbol's surviving lots into the per-symbol record.
func summarize(symbol string, lots []types.Lot, realized, marketPrice decimal.Decimal) types.SymbolPnl {
	summary := types.SymbolPnl{
		Symbol:      symbol,
		MarketPrice: marketPrice,
		RealizedPnl: realized,
		OpenLots:    lots,
	}
	cost := decimal.Zero
	for _, lot := range lots {
		summary.PositionQty = summary.PositionQty.Add(lot.Qty)
		cost = cost.Add(lot.Price.Mul(lot.Qty))
		summary.UnrealizedPnl = summary.UnrealizedPnl.Add(marketPrice.Sub(lot.Price).Mul(lot.Qty))
	}
	if summary.PositionQty.IsPositive() {
		summary.AvgCost = cost.DivRound(summary.PositionQty, priceScale)
	}
	return summary
}

func symbolOf(order *types.Order) string {
	if order.InstrumentSymbol != "" {
		return order.InstrumentSymbol
	}
	return order.InstrumentID
}
