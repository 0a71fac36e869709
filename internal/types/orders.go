package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	TypeMarket          OrderType = "MARKET"
	TypeLimit           OrderType = "LIMIT"
	TypeStopMarket      OrderType = "STOP_MARKET"
	TypeStopLimit       OrderType = "STOP_LIMIT"
	TypeTrailingStop    OrderType = "TRAILING_STOP"
	TypeIceberg         OrderType = "ICEBERG"
	TypeOneCancelsOther OrderType = "ONE_CANCELS_OTHER"
)

type TimeInForce string

const (
	TifDay TimeInForce = "DAY"
	TifGtc TimeInForce = "GTC"
	TifIoc TimeInForce = "IOC"
	TifFok TimeInForce = "FOK"
)

type OrderStatus string

const (
	StatusNew                OrderStatus = "NEW"
	StatusPendingValidation  OrderStatus = "PENDING_VALIDATION"
	StatusPendingWalletCheck OrderStatus = "PENDING_WALLET_CHECK"
	StatusPendingCompliance  OrderStatus = "PENDING_COMPLIANCE"
	StatusApproved           OrderStatus = "APPROVED"
	StatusPending            OrderStatus = "PENDING"
	StatusPartiallyFilled    OrderStatus = "PARTIALLY_FILLED"
	StatusFilled             OrderStatus = "FILLED"
	StatusCancelled          OrderStatus = "CANCELLED"
	StatusRejected           OrderStatus = "REJECTED"
)

// Terminal reports whether no further transitions are allowed from this status.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Order is a client instruction to buy or sell an instrument. It owns its
// Executions; both are only ever mutated together inside a store transaction.
type Order struct {
	gorm.Model       `json:"-"`
	UserID           uint64      `gorm:"not null;index:ix_orders_user_time,priority:1;uniqueIndex:uq_orders_client_order,priority:1" json:"user_id"`
	InstrumentID     string      `gorm:"size:64;not null;index:ix_orders_instr_time,priority:1" json:"instrument_id"`
	InstrumentSymbol string      `gorm:"size:32" json:"instrument_symbol"`
	Side             OrderSide   `gorm:"size:8;not null" json:"side"`
	Type             OrderType   `gorm:"size:18;not null" json:"order_type"`
	Status           OrderStatus `gorm:"size:20;not null" json:"status"`
	TimeInForce      TimeInForce `gorm:"size:8;not null" json:"time_in_force"`

	TotalQuantity  decimal.Decimal  `gorm:"type:decimal(18,8);not null" json:"total_quantity"`
	FilledQuantity decimal.Decimal  `gorm:"type:decimal(18,8);not null" json:"filled_quantity"`
	AvgFillPrice   *decimal.Decimal `gorm:"type:decimal(18,8)" json:"avg_fill_price,omitempty"`
	NotionalValue  *decimal.Decimal `gorm:"type:decimal(20,8)" json:"notional_value,omitempty"`

	LimitPrice      *decimal.Decimal `gorm:"type:decimal(18,8)" json:"limit_price,omitempty"`
	StopPrice       *decimal.Decimal `gorm:"type:decimal(18,8)" json:"stop_price,omitempty"`
	TrailingOffset  *decimal.Decimal `gorm:"type:decimal(18,8)" json:"trailing_offset,omitempty"`
	TrailingType    string           `gorm:"size:16" json:"trailing_type,omitempty"` // PERCENTAGE or FIXED
	DisplayQuantity *int             `json:"display_quantity,omitempty"`

	// One-cancels-other group parameters, set only for ONE_CANCELS_OTHER orders.
	OcoGroupID           string           `gorm:"size:64" json:"oco_group_id,omitempty"`
	PrimaryOrderType     string           `gorm:"size:18" json:"primary_order_type,omitempty"`
	PrimaryPrice         *decimal.Decimal `gorm:"type:decimal(18,8)" json:"primary_price,omitempty"`
	PrimaryStopPrice     *decimal.Decimal `gorm:"type:decimal(18,8)" json:"primary_stop_price,omitempty"`
	SecondaryOrderType   string           `gorm:"size:18" json:"secondary_order_type,omitempty"`
	SecondaryPrice       *decimal.Decimal `gorm:"type:decimal(18,8)" json:"secondary_price,omitempty"`
	SecondaryStopPrice   *decimal.Decimal `gorm:"type:decimal(18,8)" json:"secondary_stop_price,omitempty"`
	SecondaryTrailAmount *decimal.Decimal `gorm:"type:decimal(18,8)" json:"secondary_trail_amount,omitempty"`

	ClientOrderID *string `gorm:"size:64;uniqueIndex:uq_orders_client_order,priority:2" json:"client_order_id,omitempty"`
	Confirmed     bool    `json:"is_confirmed"`

	PlacedAt  time.Time `gorm:"not null;index:ix_orders_user_time,priority:2,sort:desc;index:ix_orders_instr_time,priority:2,sort:desc" json:"placed_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
	// ExecutedAt doubles as the cancellation time on cancelled orders, to stay
	// wire-compatible with downstream consumers. CancelledAt carries the same
	// value without the overload.
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Version uint `gorm:"not null;default:0" json:"-"`

	Items []Execution `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"items,omitempty"`
}

// Execution is a single fill against an order. Rows are append-only.
type Execution struct {
	gorm.Model    `json:"-"`
	OrderID       uint            `gorm:"not null;index:ix_items_order" json:"order_id"`
	InstrumentID  string          `gorm:"size:64;not null;index:ix_items_instr_time,priority:1" json:"instrument_id"`
	Quantity      decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"quantity"`
	ExecutedPrice decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"executed_price"`
	Fees          decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"fees"`
	Notional      decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"notional"`
	ExecutionID   string          `gorm:"size:64" json:"execution_id,omitempty"`
	ExecutedAt    time.Time       `gorm:"not null;index:ix_items_instr_time,priority:2,sort:desc" json:"executed_at"`
}

// BeforeCreate derives the notional from quantity and price when absent.
func (e *Execution) BeforeCreate(_ *gorm.DB) error {
	if e.Notional.IsZero() {
		e.Notional = e.Quantity.Mul(e.ExecutedPrice)
	}
	return nil
}
