package queue

import (
	"context"
	"time"

	"textml-orchestrator/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer pulls deliveries from the durable training queue and hands each
// one to the handler on its own goroutine. Delivery semantics are
// at-least-once: unacked messages are redelivered after the ack deadline, so
// the handler must tolerate duplicates.
type Consumer struct {
	channel *amqp.Channel
	queue   string
	handler Handler
	log     *logger.Logger
}

// NewConsumer declares the durable queue, binds it to the exchange and
// configures prefetch. ackDeadline bounds how long the broker waits for an
// ack before considering the consumer dead.
func NewConsumer(conn *amqp.Connection, exchange, routingKey, queueName string, prefetch int, ackDeadline time.Duration, h Handler, log *logger.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	// Declare the exchange too so worker and server can start in any order.
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, err
	}

	args := amqp.Table{
		"x-consumer-timeout": ackDeadline.Milliseconds(),
	}
	if _, err := ch.QueueDeclare(
		queueName,
		true, // durable
		false,
		false,
		false,
		args,
	); err != nil {
		return nil, err
	}

	if err := ch.QueueBind(
		queueName,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		return nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}

	return &Consumer{
		channel: ch,
		queue:   queueName,
		handler: h,
		log:     log.With("component", "QueueConsumer"),
	}, nil
}

// Start blocks on the receive loop until the context is cancelled or the
// channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false, // explicit ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	c.log.Info("Consuming training jobs", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn("Queue channel closed")
				return nil
			}
			go c.handler.HandleDelivery(amqpDelivery{msg: msg})
		}
	}
}

// Close closes the underlying channel.
func (c *Consumer) Close() error {
	return c.channel.Close()
}

type amqpDelivery struct {
	msg amqp.Delivery
}

func (d amqpDelivery) Body() []byte { return d.msg.Body }

func (d amqpDelivery) Ack() error { return d.msg.Ack(false) }

func (d amqpDelivery) Requeue() error { return d.msg.Nack(false, true) }
