package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// RabbitQueue publishes jobs as persistent JSON messages on durable queues
// named after the topic, and consumes them with manual acks.
type RabbitQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex
	log  zerolog.Logger
}

func NewRabbitQueue(url string, log zerolog.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	// one unacked batch per consumer; a batch can take minutes
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitQueue{conn: conn, ch: ch, log: log}, nil
}

func (q *RabbitQueue) declare(topic string) error {
	_, err := q.ch.QueueDeclare(topic, true, false, false, false, nil)
	return err
}

func (q *RabbitQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.declare(topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Subscribe consumes topic on a background goroutine. The handler gets the
// raw message body.
func (q *RabbitQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	if err := q.declare(topic); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	msgs, err := q.ch.Consume(topic, "", false, false, false, false, nil)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume %s: %w", topic, err)
	}

	go func() {
		for d := range msgs {
			err := handler(d.Body)
			if serr := Settle(d, err); serr != nil {
				q.log.Error().Err(serr).Str("topic", topic).Msg("failed to settle delivery")
			}
		}
		q.log.Warn().Str("topic", topic).Msg("delivery channel closed")
	}()
	return nil
}

// Acknowledger is the part of amqp.Delivery Settle needs.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// SettleDecision says what to do with a delivery after the handler ran.
type SettleDecision int

const (
	Ack SettleDecision = iota
	Requeue
	Drop
)

// Decide acks successes and permanent rejections, requeues a transient
// failure once, and drops it on the second failure.
func Decide(err error, redelivered bool) SettleDecision {
	switch {
	case err == nil, appErrors.IsPermanent(err):
		return Ack
	case !redelivered:
		return Requeue
	}
	return Drop
}

func Settle(d amqp.Delivery, err error) error {
	return settle(d, d.Redelivered, err)
}

func settle(a Acknowledger, redelivered bool, err error) error {
	switch Decide(err, redelivered) {
	case Requeue:
		return a.Nack(false, true)
	case Drop:
		return a.Nack(false, false)
	}
	return a.Ack(false)
}

func (q *RabbitQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
