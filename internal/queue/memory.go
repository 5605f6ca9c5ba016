package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMemoryBuffer = 1024
	defaultRequeueDelay = time.Second
)

var (
	_ Publisher = (*MemoryQueue)(nil)
	_ Consumer  = (*MemoryQueue)(nil)
)

// MemoryQueue is an in-process queue used when no broker is configured.
// Messages whose handler fails are requeued after a delay.
type MemoryQueue struct {
	mu           sync.Mutex
	queues       map[string]chan AlarmMessage
	buffer       int
	requeueDelay time.Duration
	logger       *zap.Logger
	closed       chan struct{}
	closeOnce    sync.Once
}

func NewMemoryQueue(buffer int, requeueDelay time.Duration, logger *zap.Logger) *MemoryQueue {
	if buffer < 1 {
		buffer = defaultMemoryBuffer
	}
	if requeueDelay <= 0 {
		requeueDelay = defaultRequeueDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MemoryQueue{
		queues:       make(map[string]chan AlarmMessage),
		buffer:       buffer,
		requeueDelay: requeueDelay,
		logger:       logger,
		closed:       make(chan struct{}),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, queue string, msg AlarmMessage) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid alarm message: %w", err)
	}

	select {
	case <-q.closed:
		return fmt.Errorf("queue is closed")
	default:
	}

	ch := q.queue(queue)
	select {
	case <-q.closed:
		return fmt.Errorf("queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	case ch <- msg:
		return nil
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	ch := q.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.closed:
			return nil
		case msg := <-ch:
			if err := handler(ctx, msg); err != nil {
				q.logger.Warn("handler failed, requeueing message",
					zap.String("webhookId", msg.WebhookID),
					zap.Duration("delay", q.requeueDelay),
					zap.Error(err),
				)
				q.requeueLater(queue, msg)
			}
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	return nil
}

// depth reports how many messages are waiting on a queue.
func (q *MemoryQueue) depth(queue string) int {
	return len(q.queue(queue))
}

func (q *MemoryQueue) requeueLater(queue string, msg AlarmMessage) {
	time.AfterFunc(q.requeueDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), q.requeueDelay)
		defer cancel()

		if err := q.Publish(ctx, queue, msg); err != nil {
			q.logger.Error("failed to requeue message",
				zap.String("webhookId", msg.WebhookID),
				zap.Error(err),
			)
		}
	})
}

func (q *MemoryQueue) queue(name string) chan AlarmMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan AlarmMessage, q.buffer)
		q.queues[name] = ch
	}
	return ch
}
