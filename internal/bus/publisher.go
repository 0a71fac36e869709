package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opentrade/order-service/internal/types"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher publishes envelopes in confirm mode: Publish returns only after
// the broker has accepted the persistent message, so a failed publish keeps
// the surrounding store transaction from committing.
type Publisher struct {
	mu         sync.Mutex
	ch         *amqp091.Channel
	partitions int
	declared   map[string]bool
}

func NewPublisher(conn *amqp091.Connection, partitions int) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{
		ch:         ch,
		partitions: partitions,
		declared:   make(map[string]bool),
	}, nil
}

// Publish routes the envelope to the topic partition owning key.
func (p *Publisher) Publish(ctx context.Context, topic, key string, envelope types.EventEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[topic] {
		if err := declareTopology(p.ch, topic, p.partitions); err != nil {
			return err
		}
		p.declared[topic] = true
	}

	route := partitionQueue(topic, partitionFor(key, p.partitions))
	confirmation, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchangeName, route, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     key,
			CorrelationId: envelope.CorrelationID,
			Type:          envelope.EventType,
			Body:          body,
		})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", topic, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected publish to %s", topic)
	}

	log.Debug().
		Str("topic", topic).
		Str("key", key).
		Str("event_type", envelope.EventType).
		Msg("message published")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
