package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bus topics. Every payload travels wrapped in an EventEnvelope keyed by the
// stringified order id, so events for one order preserve their relative order.
const (
	TopicValidation  = "orders.validation.v1"
	TopicWalletCheck = "orders.wallet-check.v1"
	TopicCompliance  = "orders.compliance.v1"
	TopicApproved    = "orders.approved.v1"
	TopicRejected    = "orders.rejected.v1"
	TopicExchange    = "orders.exchange.v1"
	TopicExecution   = "execution.v1"
	TopicCancelled   = "failed.v1"
)

const envelopeProducer = "order-service"

// EventEnvelope is the outer frame around every bus message.
type EventEnvelope struct {
	EventType     string          `json:"eventType"`
	SchemaVersion string          `json:"schemaVersion"`
	CorrelationID string          `json:"correlationId"`
	Producer      string          `json:"producer"`
	Timestamp     string          `json:"timeStamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a v1 envelope with a fresh correlation id.
func NewEnvelope(eventType string, payload interface{}) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{
		EventType:     eventType,
		SchemaVersion: "v1",
		CorrelationID: uuid.New().String(),
		Producer:      envelopeProducer,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Payload:       raw,
	}, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (e EventEnvelope) DecodePayload(out interface{}) error {
	return json.Unmarshal(e.Payload, out)
}

// OrderPlacedEvent is the flattened order snapshot carried on the
// wallet-check topic.
type OrderPlacedEvent struct {
	OrderID         string           `json:"orderId"`
	UserID          string           `json:"userId"`
	Symbol          string           `json:"symbol"`
	Side            string           `json:"side"`
	Type            string           `json:"type"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stopPrice,omitempty"`
	TrailingOffset  *decimal.Decimal `json:"trailingOffset,omitempty"`
	TrailingType    string           `json:"trailingType,omitempty"`
	DisplayQuantity *int             `json:"displayQuantity,omitempty"`
	TimeInForce     string           `json:"timeInForce"`
	Status          string           `json:"status"`
}

// OrderValidationEvent is the legacy validation-topic payload.
type OrderValidationEvent struct {
	OrderID          string           `json:"orderId"`
	UserID           uint64           `json:"userId"`
	InstrumentID     string           `json:"instrumentId"`
	InstrumentSymbol string           `json:"instrumentSymbol"`
	OrderSide        string           `json:"orderSide"`
	OrderType        string           `json:"orderType"`
	TimeInForce      string           `json:"timeInForce"`
	Quantity         decimal.Decimal  `json:"quantity"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	StopPrice        *decimal.Decimal `json:"stopPrice,omitempty"`
	TrailingOffset   *decimal.Decimal `json:"trailingOffset,omitempty"`
	TrailingType     string           `json:"trailingType,omitempty"`
	DisplayQuantity  *int             `json:"displayQuantity,omitempty"`
	ClientOrderID    string           `json:"clientOrderId,omitempty"`
}

// ComplianceDecisionEvent arrives on the approved/rejected topics.
type ComplianceDecisionEvent struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

// OrderExecutedEvent is an exchange fill report.
type OrderExecutedEvent struct {
	OrderID        string          `json:"orderId"`
	CounterOrderID string          `json:"counterOrderId"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	NotionalValue  decimal.Decimal `json:"notionalValue"`
	Status         string          `json:"status"` // PENDING, PARTIALLY_FILLED, FILLED
	ExecutedAt     string          `json:"executedAt,omitempty"`
}

// OrderCancelledEvent is an exchange cancellation report.
type OrderCancelledEvent struct {
	OrderID     string `json:"orderId"`
	Reason      string `json:"reason"`
	CancelledAt string `json:"cancelledAt,omitempty"`
}

// ExchangeOrderRequest is the flat record handed to the exchange. Fields that
// do not apply to the order type stay nil and are omitted from the JSON.
type ExchangeOrderRequest struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	OrderType   string          `json:"orderType"`
	Quantity    decimal.Decimal `json:"quantity"`
	TimeInForce string          `json:"timeInForce"`
	Status      string          `json:"status"`
	Timestamp   int64           `json:"timestamp"` // ms since epoch

	LimitPrice      *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice       *decimal.Decimal `json:"stopPrice,omitempty"`
	TrailingOffset  *decimal.Decimal `json:"trailingOffset,omitempty"`
	TrailingType    string           `json:"trailingType,omitempty"`
	DisplayQuantity *int             `json:"displayQuantity,omitempty"`
	ClientOrderID   string           `json:"clientOrderId,omitempty"`

	OcoGroupID           string           `json:"ocoGroupId,omitempty"`
	PrimaryOrderType     string           `json:"primaryOrderType,omitempty"`
	PrimaryPrice         *decimal.Decimal `json:"primaryPrice,omitempty"`
	PrimaryStopPrice     *decimal.Decimal `json:"primaryStopPrice,omitempty"`
	SecondaryOrderType   string           `json:"secondaryOrderType,omitempty"`
	SecondaryPrice       *decimal.Decimal `json:"secondaryPrice,omitempty"`
	SecondaryStopPrice   *decimal.Decimal `json:"secondaryStopPrice,omitempty"`
	SecondaryTrailAmount *decimal.Decimal `json:"secondaryTrailAmount,omitempty"`
}

// OrderStatusUpdate is the record pushed to the per-user notification channel.
type OrderStatusUpdate struct {
	OrderID          uint             `json:"orderId"`
	UserID           uint64           `json:"userId"`
	InstrumentSymbol string           `json:"instrumentSymbol"`
	Status           OrderStatus      `json:"status"`
	TotalQuantity    decimal.Decimal  `json:"totalQuantity"`
	FilledQuantity   decimal.Decimal  `json:"filledQuantity"`
	AvgFillPrice     *decimal.Decimal `json:"avgFillPrice,omitempty"`
	NotionalValue    *decimal.Decimal `json:"notionalValue,omitempty"`
	Message          string           `json:"message,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`

	LastExecutionPrice    *decimal.Decimal `json:"lastExecutionPrice,omitempty"`
	LastExecutionQuantity *decimal.Decimal `json:"lastExecutionQuantity,omitempty"`
	LastExecutionID       string           `json:"lastExecutionId,omitempty"`
}
