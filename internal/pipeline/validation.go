package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opentrade/order-service/internal/bus"
	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/types"
)

// HandleValidation consumes the validation topic. It checks the event payload
// for structural problems, verifies sell-side position coverage and forwards
// clean orders to the wallet check stage.
func (c *Controller) HandleValidation() bus.HandlerFunc {
	return func(ctx context.Context, key string, envelope types.EventEnvelope) error {
		logger := log.With().Str("stage", "validation").Str("key", key).Logger()

		var event types.OrderValidationEvent
		if err := envelope.DecodePayload(&event); err != nil {
			return bus.NonRetryable(fmt.Errorf("decode validation payload: %w", err))
		}
		orderID, err := parseOrderID(event.OrderID)
		if err != nil {
			return bus.NonRetryable(err)
		}

		return c.db.Transaction(func(tx *orders.Database) error {
			order, err := tx.GetOrder(orderID)
			if err == orders.ErrOrderNotFound {
				logger.Warn().Uint("order_id", orderID).Msg("validation event for unknown order, dropping")
				return nil
			}
			if err != nil {
				return err
			}
			if order.Status != types.StatusNew && order.Status != types.StatusPendingValidation {
				logger.Info().Str("status", string(order.Status)).Msg("order already past validation, skipping replay")
				return nil
			}

			if reason := validationFailure(&event); reason != "" {
				logger.Info().Uint("order_id", orderID).Str("reason", reason).Msg("order failed validation")
				return c.reject(ctx, tx, order, reason)
			}

			if order.Side == types.SideSell {
				ok, err := c.positions.HasSufficientPosition(order.UserID, order.InstrumentID, order.TotalQuantity)
				if err != nil {
					return fmt.Errorf("position lookup: %w", err)
				}
				if !ok {
					return c.reject(ctx, tx, order, fmt.Sprintf("Insufficient position in %s to sell %s", order.InstrumentSymbol, order.TotalQuantity))
				}
			}

			order.Status = types.StatusPendingWalletCheck
			order.UpdatedAt = time.Now()
			if err := tx.SaveOrder(order); err != nil {
				return err
			}

			next, err := types.NewEnvelope("OrderValidated", orders.PlacedEvent(order))
			if err != nil {
				return err
			}
			if err := c.publisher.Publish(ctx, types.TopicWalletCheck, key, next); err != nil {
				return fmt.Errorf("publish wallet check: %w", err)
			}
			c.notifier.SendOrderUpdate(ctx, order, "Order validated", nil)
			return nil
		})
	}
}

// validationFailure returns a human readable rejection reason, or empty when
// the payload is well formed.
func validationFailure(e *types.OrderValidationEvent) string {
	if e.OrderID == "" {
		return "Order ID missing"
	}
	if e.UserID == 0 {
		return "User ID missing"
	}
	if e.InstrumentID == "" {
		return "Instrument missing"
	}
	switch types.OrderSide(e.OrderSide) {
	case types.SideBuy, types.SideSell:
	default:
		return fmt.Sprintf("Invalid order side %q", e.OrderSide)
	}
	if !e.Quantity.IsPositive() {
		return "Quantity must be positive"
	}
	switch types.OrderType(e.OrderType) {
	case types.TypeMarket:
	case types.TypeLimit:
		if e.Price == nil || !e.Price.IsPositive() {
			return "Limit orders require a positive limit price"
		}
	case types.TypeStopMarket:
		if e.StopPrice == nil || !e.StopPrice.IsPositive() {
			return "Stop orders require a positive stop price"
		}
	case types.TypeStopLimit:
		if e.Price == nil || !e.Price.IsPositive() {
			return "Stop-limit orders require a positive limit price"
		}
		if e.StopPrice == nil || !e.StopPrice.IsPositive() {
			return "Stop-limit orders require a positive stop price"
		}
	case types.TypeTrailingStop:
		if e.TrailingOffset == nil || !e.TrailingOffset.IsPositive() {
			return "Trailing stop orders require a positive trailing offset"
		}
	case types.TypeIceberg:
		if e.Price == nil || !e.Price.IsPositive() {
			return "Iceberg orders require a positive limit price"
		}
		if e.DisplayQuantity == nil || *e.DisplayQuantity <= 0 {
			return "Iceberg orders require a positive display quantity"
		}
	case types.TypeOneCancelsOther:
	default:
		return fmt.Sprintf("Invalid order type %q", e.OrderType)
	}
	switch types.TimeInForce(e.TimeInForce) {
	case types.TifDay, types.TifGtc, types.TifIoc, types.TifFok:
	default:
		return fmt.Sprintf("Invalid time in force %q", e.TimeInForce)
	}
	return ""
}
