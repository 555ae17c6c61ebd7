package queue

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes start-training messages to the durable training
// exchange.
type Publisher struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewPublisher creates a publisher and declares the durable topic exchange.
func NewPublisher(conn *amqp.Connection, exchange, routingKey string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// PublishStartTraining enqueues a start-training message for the given job.
func (p *Publisher) PublishStartTraining(ctx context.Context, jobID string) error {
	body, err := json.Marshal(Message{JobID: jobID, Action: ActionStartTraining})
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Close closes the underlying channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}
