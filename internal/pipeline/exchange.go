package pipeline

import (
	"strconv"
	"time"

	"github.com/opentrade/order-service/internal/types"
)

// BuildExchangeOrderRequest flattens an order into the record the exchange
// expects. Price fields that do not apply to the order type are left nil so
// they never reach the wire.
func BuildExchangeOrderRequest(order *types.Order) types.ExchangeOrderRequest {
	req := types.ExchangeOrderRequest{
		OrderID:     strconv.FormatUint(uint64(order.ID), 10),
		UserID:      strconv.FormatUint(order.UserID, 10),
		Symbol:      order.InstrumentSymbol,
		Side:        string(order.Side),
		OrderType:   string(order.Type),
		Quantity:    order.TotalQuantity,
		TimeInForce: string(order.TimeInForce),
		Status:      string(order.Status),
		Timestamp:   time.Now().UnixMilli(),
	}
	if order.ClientOrderID != nil {
		req.ClientOrderID = *order.ClientOrderID
	}

	switch order.Type {
	case types.TypeMarket:
		// No price parameters.
	case types.TypeLimit:
		req.LimitPrice = order.LimitPrice
	case types.TypeStopMarket:
		req.StopPrice = order.StopPrice
	case types.TypeStopLimit:
		req.LimitPrice = order.LimitPrice
		req.StopPrice = order.StopPrice
	case types.TypeTrailingStop:
		req.TrailingOffset = order.TrailingOffset
		req.TrailingType = order.TrailingType
	case types.TypeIceberg:
		req.LimitPrice = order.LimitPrice
		req.DisplayQuantity = order.DisplayQuantity
	case types.TypeOneCancelsOther:
		req.OcoGroupID = order.OcoGroupID
		req.PrimaryOrderType = order.PrimaryOrderType
		req.PrimaryPrice = order.PrimaryPrice
		req.PrimaryStopPrice = order.PrimaryStopPrice
		req.SecondaryOrderType = order.SecondaryOrderType
		req.SecondaryPrice = order.SecondaryPrice
		req.SecondaryStopPrice = order.SecondaryStopPrice
		req.SecondaryTrailAmount = order.SecondaryTrailAmount
	}
	return req
}
