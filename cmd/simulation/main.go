// The simulation binary stands in for the compliance engine and the exchange
// so the whole pipeline can be exercised against a local broker. It approves
// or rejects orders arriving on the compliance topic and answers exchange
// routing with one or two fills, occasionally a cancellation.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/opentrade/order-service/internal/bus"
	"github.com/opentrade/order-service/internal/config"
	"github.com/opentrade/order-service/internal/types"
)

const (
	cancelChance      = 10 // percent of exchange orders cancelled
	partialFillChance = 40 // percent of fills split in two
)

// Compliance rules mirrored from the real engine's blocklist.
var (
	blockedUsers   = map[string]bool{"911": true, "1313": true}
	haltedSymbols  = map[string]bool{"XYZHALTED": true, "SUSPENDEDSTOCK": true}
	basePrices     = map[string]float64{"AAPL": 180, "GOOGL": 140, "MSFT": 410, "AMZN": 175, "META": 500}
	fallbackPrice  = 100.0
	priceJitterPct = 2.0
)

// init configures the logger for the simulation with pretty printing
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

type simulator struct {
	publisher *bus.Publisher
}

// main connects to the broker and runs the compliance and exchange
// simulators until interrupted.
func main() {
	cfg := config.Load()

	conn, err := bus.Connect(cfg.AmqpURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to broker")
	}
	defer conn.Close()

	publisher, err := bus.NewPublisher(conn, cfg.Partitions)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create publisher")
	}
	defer publisher.Close()

	sim := &simulator{publisher: publisher}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := bus.NewConsumer(conn, cfg.Partitions, cfg.Parallelism)
	if err := consumer.Subscribe(ctx, types.TopicCompliance, "sim-compliance", sim.handleCompliance); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to compliance topic")
	}
	if err := consumer.Subscribe(ctx, types.TopicExchange, "sim-exchange", sim.handleExchange); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to exchange topic")
	}

	log.Info().Msg("Simulation running, waiting for orders")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down simulation...")

	cancel()
	consumer.Close()
}

// handleCompliance approves every order except those from blocked users or
// in halted symbols.
func (s *simulator) handleCompliance(ctx context.Context, key string, envelope types.EventEnvelope) error {
	var order types.ExchangeOrderRequest
	if err := envelope.DecodePayload(&order); err != nil {
		return bus.NonRetryable(fmt.Errorf("decode exchange order: %w", err))
	}

	decision := types.ComplianceDecisionEvent{OrderID: order.OrderID}
	topic := types.TopicApproved
	eventType := "ComplianceApproved"

	switch {
	case blockedUsers[order.UserID]:
		topic = types.TopicRejected
		eventType = "ComplianceRejected"
		decision.Reason = "Account is blocked for trading"
	case haltedSymbols[order.Symbol]:
		topic = types.TopicRejected
		eventType = "ComplianceRejected"
		decision.Reason = fmt.Sprintf("Trading in %s is halted", order.Symbol)
	}

	out, err := types.NewEnvelope(eventType, decision)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, topic, key, out); err != nil {
		return err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("decision", eventType).
		Str("reason", decision.Reason).
		Msg("Compliance decision")
	return nil
}

// handleExchange simulates order execution. Most orders fill, some in two
// parts; a small share is cancelled.
func (s *simulator) handleExchange(ctx context.Context, key string, envelope types.EventEnvelope) error {
	var order types.ExchangeOrderRequest
	if err := envelope.DecodePayload(&order); err != nil {
		return bus.NonRetryable(fmt.Errorf("decode exchange order: %w", err))
	}

	if rand.Intn(100) < cancelChance {
		return s.publishCancel(ctx, key, order)
	}

	price := fillPrice(order)
	if rand.Intn(100) < partialFillChance && order.Quantity.GreaterThan(decimal.NewFromInt(1)) {
		half := order.Quantity.Div(decimal.NewFromInt(2)).Floor()
		rest := order.Quantity.Sub(half)
		if err := s.publishFill(ctx, key, order, half, price, types.StatusPartiallyFilled); err != nil {
			return err
		}
		return s.publishFill(ctx, key, order, rest, price, types.StatusFilled)
	}
	return s.publishFill(ctx, key, order, order.Quantity, price, types.StatusFilled)
}

func (s *simulator) publishFill(ctx context.Context, key string, order types.ExchangeOrderRequest, quantity, price decimal.Decimal, status types.OrderStatus) error {
	fill := types.OrderExecutedEvent{
		OrderID:        order.OrderID,
		CounterOrderID: "SIM-" + strconv.FormatInt(rand.Int63(), 36),
		Quantity:       quantity,
		Price:          price,
		NotionalValue:  quantity.Mul(price),
		Status:         string(status),
		ExecutedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	out, err := types.NewEnvelope("OrderExecuted", fill)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, types.TopicExecution, key, out); err != nil {
		return err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("quantity", quantity.String()).
		Str("price", price.String()).
		Str("status", string(status)).
		Msg("Order executed")
	return nil
}

func (s *simulator) publishCancel(ctx context.Context, key string, order types.ExchangeOrderRequest) error {
	cancel := types.OrderCancelledEvent{
		OrderID:     order.OrderID,
		Reason:      "No liquidity at requested price",
		CancelledAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	out, err := types.NewEnvelope("OrderCancelled", cancel)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, types.TopicCancelled, key, out); err != nil {
		return err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Msg("Order cancelled")
	return nil
}

// fillPrice executes at the limit when one is set, otherwise at a jittered
// reference price for the symbol.
func fillPrice(order types.ExchangeOrderRequest) decimal.Decimal {
	if order.LimitPrice != nil && order.LimitPrice.IsPositive() {
		return *order.LimitPrice
	}
	base, ok := basePrices[order.Symbol]
	if !ok {
		base = fallbackPrice
	}
	jitter := (rand.Float64()*2 - 1) * priceJitterPct / 100
	return decimal.NewFromFloat(base * (1 + jitter)).Round(2)
}
