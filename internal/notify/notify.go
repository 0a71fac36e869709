// Package notify pushes order status updates to per-user Redis channels.
// Delivery is fire and forget: a failed publish is logged and swallowed so it
// can never roll back the order transaction that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/opentrade/order-service/internal/types"
)

const broadcastChannel = "/topic/orders/all"

type Sink struct {
	client *redis.Client
}

func NewSink(client *redis.Client) *Sink {
	return &Sink{client: client}
}

func channelFor(userID uint64) string {
	return fmt.Sprintf("/topic/orders/%d", userID)
}

// SendOrderUpdate publishes the order's current state to its owner's channel.
func (s *Sink) SendOrderUpdate(ctx context.Context, order *types.Order, message string, lastExecution *types.Execution) {
	update := buildUpdate(order, message, lastExecution)
	s.publish(ctx, channelFor(order.UserID), update)
}

// Broadcast publishes the update to the shared firehose channel, used by
// operational dashboards that watch all order flow.
func (s *Sink) Broadcast(ctx context.Context, order *types.Order, message string) {
	update := buildUpdate(order, message, nil)
	s.publish(ctx, broadcastChannel, update)
}

func (s *Sink) publish(ctx context.Context, channel string, update types.OrderStatusUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to marshal order update")
		return
	}
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Error().Err(err).Str("channel", channel).Uint("order_id", update.OrderID).
			Msg("failed to publish order update")
	}
}

func buildUpdate(order *types.Order, message string, lastExecution *types.Execution) types.OrderStatusUpdate {
	update := types.OrderStatusUpdate{
		OrderID:          order.ID,
		UserID:           order.UserID,
		InstrumentSymbol: order.InstrumentSymbol,
		Status:           order.Status,
		TotalQuantity:    order.TotalQuantity,
		FilledQuantity:   order.FilledQuantity,
		AvgFillPrice:     order.AvgFillPrice,
		NotionalValue:    order.NotionalValue,
		Message:          message,
		UpdatedAt:        time.Now().UTC(),
	}
	if lastExecution != nil {
		price := lastExecution.ExecutedPrice
		quantity := lastExecution.Quantity
		update.LastExecutionPrice = &price
		update.LastExecutionQuantity = &quantity
		update.LastExecutionID = lastExecution.ExecutionID
	}
	return update
}
