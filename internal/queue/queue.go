package queue

import (
	"context"
	"fmt"
)

// Publisher publishes alarm messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg AlarmMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg AlarmMessage) error

// Consumer consumes alarm messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// AlarmQueue carries fired alarms from the poller to the workers.
	AlarmQueue = "webhook.alarms"
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.webhook.alarms.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{AlarmQueue}
}
