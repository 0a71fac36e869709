package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opentrade/order-service/internal/types"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc processes one delivery. Returning nil acknowledges. A plain
// error triggers the retry policy; an error wrapped with NonRetryable
// acknowledges without retrying.
type HandlerFunc func(ctx context.Context, key string, envelope types.EventEnvelope) error

// Consumer runs one worker goroutine per topic partition, with prefetch 1
// and manual acknowledgement. A shared slot pool caps how many handlers run
// at once across all subscriptions; each partition stays serial either way.
type Consumer struct {
	conn       *amqp091.Connection
	partitions int
	slots      chan struct{}

	mu       sync.Mutex
	channels []*amqp091.Channel
	wg       sync.WaitGroup
}

func NewConsumer(conn *amqp091.Connection, partitions, parallelism int) *Consumer {
	if parallelism <= 0 {
		parallelism = partitions
	}
	return &Consumer{
		conn:       conn,
		partitions: partitions,
		slots:      make(chan struct{}, parallelism),
	}
}

// Subscribe attaches handler to every partition queue of topic under the
// given consumer group name. Workers exit when ctx is cancelled or the
// connection closes.
func (c *Consumer) Subscribe(ctx context.Context, topic, group string, handler HandlerFunc) error {
	for p := 0; p < c.partitions; p++ {
		ch, err := c.conn.Channel()
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		if err := declareTopology(ch, topic, c.partitions); err != nil {
			return err
		}
		if err := ch.Qos(1, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}

		queue := partitionQueue(topic, p)
		deliveries, err := ch.Consume(queue, fmt.Sprintf("%s-%d", group, p), false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}

		c.mu.Lock()
		c.channels = append(c.channels, ch)
		c.mu.Unlock()

		c.wg.Add(1)
		go c.worker(ctx, ch, topic, deliveries, handler)
	}

	log.Info().
		Str("topic", topic).
		Str("group", group).
		Int("partitions", c.partitions).
		Msg("subscribed")
	return nil
}

func (c *Consumer) worker(ctx context.Context, ch *amqp091.Channel, topic string, deliveries <-chan amqp091.Delivery, handler HandlerFunc) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
				// Leave the delivery unacked for redelivery.
				return
			case c.slots <- struct{}{}:
			}
			c.process(ctx, ch, topic, d, handler)
			<-c.slots
		}
	}
}

func (c *Consumer) process(ctx context.Context, ch *amqp091.Channel, topic string, d amqp091.Delivery, handler HandlerFunc) {
	logger := log.With().
		Str("topic", topic).
		Str("key", d.MessageId).
		Logger()

	var envelope types.EventEnvelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		logger.Error().Err(err).Msg("undecodable message, routing to dead letter queue")
		c.deadLetter(ctx, ch, topic, d)
		c.ack(d, logger)
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := handler(ctx, d.MessageId, envelope)
		if err == nil {
			c.ack(d, logger)
			return
		}
		if IsNonRetryable(err) {
			logger.Warn().Err(err).Msg("non-retryable handler failure, acknowledging")
			c.ack(d, logger)
			return
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("handler failed")
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				// Shutting down mid-retry: leave the delivery unacked so the
				// broker redelivers it.
				return
			case <-time.After(retryBackoff):
			}
		}
	}

	logger.Error().Int("attempts", maxAttempts).Msg("retries exhausted, routing to dead letter queue")
	c.deadLetter(ctx, ch, topic, d)
	c.ack(d, logger)
}

func (c *Consumer) deadLetter(ctx context.Context, ch *amqp091.Channel, topic string, d amqp091.Delivery) {
	dlq := deadLetterQueue(topic)
	err := ch.PublishWithContext(ctx, exchangeName, dlq, false, false, amqp091.Publishing{
		ContentType:   d.ContentType,
		DeliveryMode:  amqp091.Persistent,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Type:          d.Type,
		Body:          d.Body,
	})
	if err != nil {
		log.Error().Err(err).Str("queue", dlq).Msg("dead letter publish failed")
	}
}

func (c *Consumer) ack(d amqp091.Delivery, logger zerolog.Logger) {
	if err := d.Ack(false); err != nil {
		logger.Error().Err(err).Msg("ack failed")
	}
}

// Close cancels all channel consumers and waits for in-flight handlers to
// drain.
func (c *Consumer) Close() {
	c.mu.Lock()
	for _, ch := range c.channels {
		_ = ch.Close()
	}
	c.channels = nil
	c.mu.Unlock()
	c.wg.Wait()
}
