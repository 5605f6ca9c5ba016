package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher publishes fired alarms with publisher confirms, so a
// nil error means the broker has taken responsibility for the message.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg AlarmMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := encodeAlarm(msg)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish alarm for %q: %w", msg.WebhookID, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("alarm publish for %q not confirmed: %w", msg.WebhookID, err)
	}
	if !acked {
		return fmt.Errorf("alarm publish for %q nacked by broker", msg.WebhookID)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func encodeAlarm(msg AlarmMessage) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid alarm message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal alarm message: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.FireAt.UTC(),
		MessageId:    msg.WebhookID,
		Body:         body,
	}, nil
}

func decodeAlarm(body []byte) (AlarmMessage, error) {
	var msg AlarmMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return AlarmMessage{}, fmt.Errorf("invalid alarm JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("invalid alarm message: %w", err)
	}
	return msg, nil
}
