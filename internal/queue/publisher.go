package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HeaderRunAt carries the time the job runner was asked to run the task, so
// consumers can tell how late a delivery is.
const HeaderRunAt = "x-run-at"

type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg TaskMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	publishing, err := newPublishing(queue, msg, p.now())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish %s task %s: %w", queue, msg.Handle, err)
	}

	return nil
}

func newPublishing(queue string, msg TaskMessage, now time.Time) (amqp.Publishing, error) {
	if !IsWorkQueue(queue) {
		return amqp.Publishing{}, fmt.Errorf("unknown work queue %q", queue)
	}
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid task message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal task message: %w", err)
	}

	headers := amqp.Table{}
	if !msg.RunAt.IsZero() {
		headers[HeaderRunAt] = msg.RunAt.UTC().Format(time.RFC3339Nano)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now.UTC(),
		MessageId:     msg.Handle,
		CorrelationId: msg.CorrelationID,
		Type:          msg.Task,
		Headers:       headers,
		Body:          body,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
