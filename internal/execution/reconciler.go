// Package execution reconciles exchange fill and cancellation reports back
// into the order store. All folds run inside a single store transaction so a
// crash mid-handler is indistinguishable from never having seen the event.
package execution

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/opentrade/order-service/internal/bus"
	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/pipeline"
	"github.com/opentrade/order-service/internal/types"
)

const priceScale = 8

// Reconciler folds exchange reports into orders.
type Reconciler struct {
	db       *orders.Database
	notifier pipeline.Notifier
	wallet   pipeline.Wallet
}

func NewReconciler(gormDB *gorm.DB, notifier pipeline.Notifier, wallet pipeline.Wallet) *Reconciler {
	return &Reconciler{
		db:       orders.NewDatabase(gormDB),
		notifier: notifier,
		wallet:   wallet,
	}
}

// HandleExecution consumes fill reports. Each report appends an execution
// row, advances the filled quantity and running average price, and moves the
// order along the status machine.
func (r *Reconciler) HandleExecution() bus.HandlerFunc {
	return func(ctx context.Context, key string, envelope types.EventEnvelope) error {
		logger := log.With().Str("stage", "execution").Str("key", key).Logger()

		var event types.OrderExecutedEvent
		if err := envelope.DecodePayload(&event); err != nil {
			return bus.NonRetryable(fmt.Errorf("decode execution payload: %w", err))
		}
		orderID, err := parseOrderID(event.OrderID)
		if err != nil {
			return bus.NonRetryable(err)
		}

		return r.db.Transaction(func(tx *orders.Database) error {
			order, err := tx.GetOrder(orderID)
			if err == orders.ErrOrderNotFound {
				logger.Warn().Uint("order_id", orderID).Msg("execution for unknown order, dropping")
				return nil
			}
			if err != nil {
				return err
			}
			if order.Status == types.StatusFilled || order.Status == types.StatusCancelled {
				logger.Info().Str("status", string(order.Status)).Msg("order already settled, skipping fill")
				return nil
			}

			executedAt := parseEventTime(event.ExecutedAt)
			item := types.Execution{
				InstrumentID:  order.InstrumentID,
				Quantity:      event.Quantity,
				ExecutedPrice: event.Price,
				Fees:          decimal.Zero, // fee schedule lands with the settlement feed
				Notional:      event.NotionalValue,
				ExecutionID:   event.CounterOrderID,
				ExecutedAt:    executedAt,
			}
			if item.Notional.IsZero() {
				item.Notional = event.Quantity.Mul(event.Price)
			}
			order.Items = append(order.Items, item)

			applyFill(order, event.Quantity, event.Price, item.Notional)

			target := types.OrderStatus(event.Status)
			if pipeline.CanTransition(order.Status, target) {
				order.Status = target
				if target == types.StatusFilled {
					order.ExecutedAt = &executedAt
				}
			} else if order.Status != target {
				logger.Info().
					Str("from", string(order.Status)).
					Str("to", string(target)).
					Msg("exchange status not reachable, keeping current status")
			}
			order.UpdatedAt = time.Now()

			if err := tx.SaveOrder(order); err != nil {
				return err
			}
			r.notifier.SendOrderUpdate(ctx, order, fmt.Sprintf("Executed %s @ %s", event.Quantity, event.Price), &item)
			if order.Status == types.StatusFilled {
				r.notifier.Broadcast(ctx, order, "Order filled")
			}
			return nil
		})
	}
}

// applyFill folds one fill into the order's filled quantity and running
// average price. The average is the quantity-weighted mean of all fills,
// recomputed from the accumulated notional at scale 8, half up.
func applyFill(order *types.Order, quantity, price, notional decimal.Decimal) {
	previousFilled := order.FilledQuantity
	newFilled := previousFilled.Add(quantity)
	order.FilledQuantity = newFilled

	if order.AvgFillPrice == nil || previousFilled.IsZero() {
		avg := price
		order.AvgFillPrice = &avg
		total := notional
		order.NotionalValue = &total
		return
	}

	accumulated := notional
	if order.NotionalValue != nil {
		accumulated = order.NotionalValue.Add(notional)
	}
	order.NotionalValue = &accumulated
	avg := accumulated.DivRound(newFilled, priceScale)
	order.AvgFillPrice = &avg
}

// HandleCancellation consumes exchange cancellation reports. Filled orders
// are too late to cancel and are skipped with a warning.
func (r *Reconciler) HandleCancellation() bus.HandlerFunc {
	return func(ctx context.Context, key string, envelope types.EventEnvelope) error {
		logger := log.With().Str("stage", "cancellation").Str("key", key).Logger()

		var event types.OrderCancelledEvent
		if err := envelope.DecodePayload(&event); err != nil {
			return bus.NonRetryable(fmt.Errorf("decode cancellation payload: %w", err))
		}
		orderID, err := parseOrderID(event.OrderID)
		if err != nil {
			return bus.NonRetryable(err)
		}

		return r.db.Transaction(func(tx *orders.Database) error {
			order, err := tx.GetOrder(orderID)
			if err == orders.ErrOrderNotFound {
				logger.Warn().Uint("order_id", orderID).Msg("cancellation for unknown order, dropping")
				return nil
			}
			if err != nil {
				return err
			}
			if order.Status == types.StatusCancelled {
				return nil
			}
			if order.Status == types.StatusFilled {
				logger.Warn().Uint("order_id", orderID).Msg("cancellation received for a filled order, ignoring")
				return nil
			}

			if err := r.wallet.ReleaseFunds(ctx, order.UserID, order.ID); err != nil {
				return fmt.Errorf("release funds: %w", err)
			}

			cancelledAt := parseEventTime(event.CancelledAt)
			order.Status = types.StatusCancelled
			order.CancelledAt = &cancelledAt
			// Downstream consumers read the cancellation time from executedAt.
			order.ExecutedAt = &cancelledAt
			order.UpdatedAt = time.Now()

			if err := tx.SaveOrder(order); err != nil {
				return err
			}
			message := "Order cancelled"
			if event.Reason != "" {
				message = "Order cancelled: " + event.Reason
			}
			r.notifier.SendOrderUpdate(ctx, order, message, nil)
			return nil
		})
	}
}

func parseOrderID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid order id %q", raw)
	}
	return uint(id), nil
}

// parseEventTime accepts RFC3339 timestamps and falls back to now.
func parseEventTime(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now().UTC()
}
