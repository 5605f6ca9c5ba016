package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer delivers alarm messages to a handler. Handler errors
// requeue the message; malformed messages go to the dead-letter queue.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{client: client, prefetch: prefetch, logger: logger}
}

// Consume blocks until ctx is cancelled, resubscribing after broker failures.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	delay := minReconnectDelay
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = minReconnectDelay
			continue
		}

		c.logger.Warn("alarm subscription lost",
			zap.String("queue", queue),
			zap.Duration("retryIn", delay),
			zap.Error(err),
		)
		if sleepCtx(ctx, delay) != nil {
			return nil
		}
		delay = nextReconnectDelay(delay)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.settle(d, c.handle(ctx, d.Body, handler)); err != nil {
				return err
			}
		}
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDeadLetter
)

func (c *RabbitMQConsumer) handle(ctx context.Context, body []byte, handler MessageHandler) outcome {
	msg, err := decodeAlarm(body)
	if err != nil {
		c.logger.Warn("dead-lettering alarm message", zap.Error(err))
		return outcomeDeadLetter
	}

	if err := handler(ctx, msg); err != nil {
		c.logger.Warn("alarm handler failed, requeueing",
			zap.String("webhookId", msg.WebhookID),
			zap.Error(err),
		)
		return outcomeRequeue
	}
	return outcomeAck
}

func (c *RabbitMQConsumer) settle(d amqp.Delivery, result outcome) error {
	var err error
	switch result {
	case outcomeRequeue:
		err = d.Nack(false, true)
	case outcomeDeadLetter:
		err = d.Reject(false)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery: %w", err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
