// Package bus is a thin typed publish/subscribe layer over RabbitMQ.
//
// Each logical topic is split into a fixed set of partition queues; messages
// route by a hash of their key, so every event for one order lands in the
// same queue and is consumed by exactly one worker. That is what gives the
// pipeline its per-order ordering guarantee.
package bus

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "orders.events"

	// Consumer retry policy: fixed backoff, then the dead-letter queue.
	maxAttempts  = 3
	retryBackoff = time.Second

	dialTimeout = 5 * time.Minute
	dialPause   = 100 * time.Millisecond
)

// ErrBrokerUnavailable is returned when the broker cannot be reached within
// the dial timeout.
var ErrBrokerUnavailable = errors.New("message broker unavailable")

// Connect dials the broker, retrying until it answers or the timeout lapses.
func Connect(url string) (*amqp091.Connection, error) {
	timeout := time.After(dialTimeout)
	for {
		select {
		case <-timeout:
			return nil, ErrBrokerUnavailable
		default:
			conn, err := amqp091.Dial(url)
			if err != nil {
				time.Sleep(dialPause)
				continue
			}
			return conn, nil
		}
	}
}

func partitionFor(key string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

func partitionQueue(topic string, partition int) string {
	return fmt.Sprintf("%s.%d", topic, partition)
}

func deadLetterQueue(topic string) string {
	return topic + ".dlq"
}

// declareTopology idempotently declares the exchange, the topic's partition
// queues and its dead-letter queue.
func declareTopology(ch *amqp091.Channel, topic string, partitions int) error {
	if err := ch.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for p := 0; p < partitions; p++ {
		name := partitionQueue(topic, p)
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		if err := ch.QueueBind(name, name, exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", name, err)
		}
	}

	dlq := deadLetterQueue(topic)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, dlq, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", dlq, err)
	}
	return nil
}
