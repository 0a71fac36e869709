// Package pipeline contains the consumer-side stages that move an order
// through validation, wallet check and compliance until it is handed to the
// exchange. Each stage is a bus handler bound to one inbound topic.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/types"
)

// Notifier pushes order status updates to the owning user, and terminal fill
// events to the shared firehose channel. Delivery is best effort and must
// never fail the pipeline.
type Notifier interface {
	SendOrderUpdate(ctx context.Context, order *types.Order, message string, lastExecution *types.Execution)
	Broadcast(ctx context.Context, order *types.Order, message string)
}

// Wallet reserves and releases user funds. Reserve failures that are not
// ErrInsufficientFunds are treated as transient.
type Wallet interface {
	ReserveFunds(ctx context.Context, userID uint64, orderID uint, amount decimal.Decimal) error
	ReleaseFunds(ctx context.Context, userID uint64, orderID uint) error
}

// Positions answers whether a user holds enough of an instrument to sell.
type Positions interface {
	HasSufficientPosition(userID uint64, instrumentID string, quantity decimal.Decimal) (bool, error)
}

// Controller owns the pipeline stage handlers and their shared dependencies.
type Controller struct {
	db        *orders.Database
	publisher orders.Publisher
	notifier  Notifier
	wallet    Wallet
	positions Positions
}

func NewController(gormDB *gorm.DB, publisher orders.Publisher, notifier Notifier, wallet Wallet, positions Positions) *Controller {
	return &Controller{
		db:        orders.NewDatabase(gormDB),
		publisher: publisher,
		notifier:  notifier,
		wallet:    wallet,
		positions: positions,
	}
}

func parseOrderID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid order id %q", raw)
	}
	return uint(id), nil
}

// requiredAmount is the funds reservation for a buy order. Market orders
// without a notional estimate fall back to the raw quantity.
func requiredAmount(order *types.Order) decimal.Decimal {
	if order.NotionalValue != nil && order.NotionalValue.IsPositive() {
		return *order.NotionalValue
	}
	if order.LimitPrice != nil && order.LimitPrice.IsPositive() {
		return order.LimitPrice.Mul(order.TotalQuantity)
	}
	return order.TotalQuantity
}

// reject moves the order to REJECTED inside the caller's transaction and
// notifies the user. Illegal transitions are skipped silently.
func (c *Controller) reject(ctx context.Context, tx *orders.Database, order *types.Order, reason string) error {
	if !CanTransition(order.Status, types.StatusRejected) {
		return nil
	}
	order.Status = types.StatusRejected
	order.UpdatedAt = time.Now()
	if err := tx.SaveOrder(order); err != nil {
		return fmt.Errorf("persist rejection: %w", err)
	}
	c.notifier.SendOrderUpdate(ctx, order, reason, nil)
	return nil
}
