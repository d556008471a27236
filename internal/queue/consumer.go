package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer delivers send tasks to a MessageHandler with manual acks.
// Handler errors requeue the delivery; ErrReject and undecodable payloads go
// to the dead-letter queue.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
	now      func() time.Time
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
		now:      time.Now,
	}
}

// Consume blocks until ctx is done, re-subscribing with backoff whenever the
// channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if !IsWorkQueue(queue) {
		return fmt.Errorf("queue %q is not a work queue", queue)
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer subscription lost",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		wait = min(wait*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	c.logger.Info("consumer subscribed", zap.String("queue", queue), zap.Int("prefetch", c.prefetch))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	var msg TaskMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return c.deadLetter(d, "invalid JSON", zap.Error(err), zap.String("messageId", d.MessageId))
	}
	if err := msg.Validate(); err != nil {
		return c.deadLetter(d, "invalid payload", zap.Error(err), zap.String("handle", msg.Handle))
	}

	if lateness, ok := c.lateness(d); ok {
		c.logger.Debug("send task received",
			zap.String("handle", msg.Handle),
			zap.String("task", msg.Task),
			zap.Duration("lateness", lateness),
			zap.Bool("redelivered", d.Redelivered),
		)
	}

	err := handler(ctx, msg)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			return fmt.Errorf("failed to ack delivery: %w", ackErr)
		}
		return nil
	case errors.Is(err, ErrReject):
		return c.deadLetter(d, "rejected by handler", zap.Error(err), zap.String("handle", msg.Handle))
	default:
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}
}

func (c *RabbitMQConsumer) deadLetter(d amqp.Delivery, reason string, fields ...zap.Field) error {
	c.logger.Warn("dead-lettering message: "+reason, append(fields, zap.String("routingKey", d.RoutingKey))...)
	if err := d.Reject(false); err != nil {
		return fmt.Errorf("failed to reject message: %w", err)
	}
	return nil
}

// lateness is how long after its requested run time a delivery arrived.
func (c *RabbitMQConsumer) lateness(d amqp.Delivery) (time.Duration, bool) {
	raw, ok := d.Headers[HeaderRunAt].(string)
	if !ok {
		return 0, false
	}
	runAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, false
	}
	return max(c.now().Sub(runAt), 0), true
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
