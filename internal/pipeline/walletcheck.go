package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opentrade/order-service/internal/bus"
	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/types"
	"github.com/opentrade/order-service/internal/wallet"
)

// HandleWalletCheck consumes the wallet-check topic. It reserves the buying
// power the order needs, then hands a flat exchange request to compliance.
// Transient wallet failures bubble up so the delivery is retried.
func (c *Controller) HandleWalletCheck() bus.HandlerFunc {
	return func(ctx context.Context, key string, envelope types.EventEnvelope) error {
		logger := log.With().Str("stage", "wallet-check").Str("key", key).Logger()

		var event types.OrderPlacedEvent
		if err := envelope.DecodePayload(&event); err != nil {
			return bus.NonRetryable(fmt.Errorf("decode wallet-check payload: %w", err))
		}
		orderID, err := parseOrderID(event.OrderID)
		if err != nil {
			return bus.NonRetryable(err)
		}

		return c.db.Transaction(func(tx *orders.Database) error {
			order, err := tx.GetOrder(orderID)
			if err == orders.ErrOrderNotFound {
				logger.Warn().Uint("order_id", orderID).Msg("wallet-check event for unknown order, dropping")
				return nil
			}
			if err != nil {
				return err
			}
			if order.Status != types.StatusPendingWalletCheck {
				logger.Info().Str("status", string(order.Status)).Msg("order not awaiting wallet check, skipping replay")
				return nil
			}

			required := requiredAmount(order)
			if err := c.wallet.ReserveFunds(ctx, order.UserID, order.ID, required); err != nil {
				if errors.Is(err, wallet.ErrInsufficientFunds) {
					return c.reject(ctx, tx, order, fmt.Sprintf("Insufficient funds: %s required", required))
				}
				return fmt.Errorf("reserve funds: %w", err)
			}

			order.Status = types.StatusPendingCompliance
			order.UpdatedAt = time.Now()
			if err := tx.SaveOrder(order); err != nil {
				return err
			}

			next, err := types.NewEnvelope("OrderFundsReserved", BuildExchangeOrderRequest(order))
			if err != nil {
				return err
			}
			if err := c.publisher.Publish(ctx, types.TopicCompliance, key, next); err != nil {
				return fmt.Errorf("publish compliance: %w", err)
			}
			c.notifier.SendOrderUpdate(ctx, order, "Funds reserved, awaiting compliance", nil)
			return nil
		})
	}
}
