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

// HandleComplianceApproved consumes the approved topic. Approved orders are
// forwarded to the exchange and left at PENDING awaiting fills.
func (c *Controller) HandleComplianceApproved() bus.HandlerFunc {
	return func(ctx context.Context, key string, envelope types.EventEnvelope) error {
		logger := log.With().Str("stage", "compliance-approved").Str("key", key).Logger()

		var event types.ComplianceDecisionEvent
		if err := envelope.DecodePayload(&event); err != nil {
			return bus.NonRetryable(fmt.Errorf("decode compliance payload: %w", err))
		}
		orderID, err := parseOrderID(event.OrderID)
		if err != nil {
			return bus.NonRetryable(err)
		}

		return c.db.Transaction(func(tx *orders.Database) error {
			order, err := tx.GetOrder(orderID)
			if err == orders.ErrOrderNotFound {
				logger.Warn().Uint("order_id", orderID).Msg("approval for unknown order, dropping")
				return nil
			}
			if err != nil {
				return err
			}
			if !CanTransition(order.Status, types.StatusApproved) {
				logger.Info().Str("status", string(order.Status)).Msg("order not awaiting compliance, skipping replay")
				return nil
			}

			// Forwarding to the exchange is what moves an order from
			// APPROVED on to PENDING. Both hops happen here, in one write.
			order.Status = types.StatusPending
			order.UpdatedAt = time.Now()
			if err := tx.SaveOrder(order); err != nil {
				return err
			}

			next, err := types.NewEnvelope("OrderApproved", BuildExchangeOrderRequest(order))
			if err != nil {
				return err
			}
			if err := c.publisher.Publish(ctx, types.TopicExchange, key, next); err != nil {
				return fmt.Errorf("publish exchange: %w", err)
			}
			c.notifier.SendOrderUpdate(ctx, order, "Order approved and sent to exchange", nil)
			return nil
		})
	}
}

// HandleComplianceRejected consumes the rejected topic. The reservation taken
// at wallet check is released before the terminal status is written, so a
// failed release leaves the delivery unacked and the whole step is retried.
func (c *Controller) HandleComplianceRejected() bus.HandlerFunc {
	return func(ctx context.Context, key string, envelope types.EventEnvelope) error {
		logger := log.With().Str("stage", "compliance-rejected").Str("key", key).Logger()

		var event types.ComplianceDecisionEvent
		if err := envelope.DecodePayload(&event); err != nil {
			return bus.NonRetryable(fmt.Errorf("decode compliance payload: %w", err))
		}
		orderID, err := parseOrderID(event.OrderID)
		if err != nil {
			return bus.NonRetryable(err)
		}

		return c.db.Transaction(func(tx *orders.Database) error {
			order, err := tx.GetOrder(orderID)
			if err == orders.ErrOrderNotFound {
				logger.Warn().Uint("order_id", orderID).Msg("rejection for unknown order, dropping")
				return nil
			}
			if err != nil {
				return err
			}
			if !CanTransition(order.Status, types.StatusRejected) {
				logger.Info().Str("status", string(order.Status)).Msg("order already terminal, skipping replay")
				return nil
			}

			// A reservation only exists once the order cleared the wallet check.
			if order.Status == types.StatusPendingCompliance || order.Status == types.StatusApproved {
				if err := c.wallet.ReleaseFunds(ctx, order.UserID, order.ID); err != nil {
					return fmt.Errorf("release funds: %w", err)
				}
			}

			reason := event.Reason
			if reason == "" {
				reason = "Rejected by compliance"
			}
			return c.reject(ctx, tx, order, reason)
		})
	}
}
