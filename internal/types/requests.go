package types

import "github.com/shopspring/decimal"

// CreateOrderRequest is the intake payload for POST /api/orders.
type CreateOrderRequest struct {
	UserID           uint64           `json:"user_id" binding:"required"`
	InstrumentID     string           `json:"instrument_id" binding:"required,max=64"`
	InstrumentSymbol string           `json:"instrument_symbol" binding:"required,max=32"`
	Side             OrderSide        `json:"side" binding:"required"`
	OrderType        OrderType        `json:"order_type" binding:"required"`
	Quantity         decimal.Decimal  `json:"quantity" binding:"required"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	StopPrice        *decimal.Decimal `json:"stop_price,omitempty"`
	TrailingOffset   *decimal.Decimal `json:"trailing_offset,omitempty"`
	TrailingType     string           `json:"trailing_type,omitempty"`
	DisplayQuantity  *int             `json:"display_quantity,omitempty"`
	TimeInForce      TimeInForce      `json:"time_in_force,omitempty"`
	ClientOrderID    *string          `json:"client_order_id,omitempty" binding:"omitempty,max=64"`

	OcoGroupID           string           `json:"oco_group_id,omitempty"`
	PrimaryOrderType     string           `json:"primary_order_type,omitempty"`
	PrimaryPrice         *decimal.Decimal `json:"primary_price,omitempty"`
	PrimaryStopPrice     *decimal.Decimal `json:"primary_stop_price,omitempty"`
	SecondaryOrderType   string           `json:"secondary_order_type,omitempty"`
	SecondaryPrice       *decimal.Decimal `json:"secondary_price,omitempty"`
	SecondaryStopPrice   *decimal.Decimal `json:"secondary_stop_price,omitempty"`
	SecondaryTrailAmount *decimal.Decimal `json:"secondary_trail_amount,omitempty"`
}
