// internal/queue/rabbit.go
package queue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/lemarche/tender-engine/internal/apperrors"
)

// RabbitQueue publishes task messages to durable RabbitMQ queues. Consumption
// (manual ack, retry headers) lives in cmd/worker.
type RabbitQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	capacity int
}

// RetryHeader carries the delivery attempt count across redeliveries.
const RetryHeader = "x-retry-count"

func NewRabbitQueue(url string, capacity int) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "connect to RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	for _, topic := range []string{TopicDispatch, TopicNotify, TopicRecount} {
		if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "declare queue %s", topic)
		}
	}
	return &RabbitQueue{conn: conn, ch: ch, capacity: capacity}, nil
}

// Publish marshals the message and sends it to the topic's durable queue.
// When the queue depth is at capacity, Backpressure is surfaced instead.
func (q *RabbitQueue) Publish(_ context.Context, topic string, msg Message) error {
	if q.capacity > 0 {
		declared, err := q.ch.QueueDeclare(topic, true, false, false, false, nil)
		if err != nil {
			return errors.Wrapf(err, "inspect queue %s", topic)
		}
		if declared.Messages >= q.capacity {
			return &apperrors.BackpressureError{Topic: topic}
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal task message")
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      amqp.Table{RetryHeader: int32(msg.Attempt)},
	})
}

// Consume registers a manual-ack consumer on the topic.
func (q *RabbitQueue) Consume(topic string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := q.ch.Qos(prefetch, 0, false); err != nil {
		return nil, errors.Wrap(err, "set prefetch")
	}
	deliveries, err := q.ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "consume %s", topic)
	}
	return deliveries, nil
}

// Attempt reads the retry counter header from a delivery.
func Attempt(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers[RetryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (q *RabbitQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

var _ Queue = (*RabbitQueue)(nil)
