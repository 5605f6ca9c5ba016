package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	deadLetterExchange = "webhook.alarms.dlx"
	dialTimeout        = 15 * time.Second
	minReconnectDelay  = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// RabbitMQ owns one broker connection shared by the alarm publisher and
// consumers. Topology is declared once per connection.
type RabbitMQ struct {
	url    string
	logger *zap.Logger
	dial   func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	declared *amqp.Connection
	live     atomic.Pointer[amqp.Connection]
}

func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, logger: logger, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ch, err := r.channel(ctx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = nil
	r.live.Store(nil)
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping reports whether the broker connection is currently open. It never redials.
func (r *RabbitMQ) Ping(context.Context) error {
	conn := r.live.Load()
	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

// channel opens a channel on a live connection, redialing with backoff until
// ctx ends. A channel failure on an apparently open connection drops it and
// redials once more.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err := r.connectLocked(ctx); err != nil {
			return nil, err
		}

		ch, err := r.conn.Channel()
		if err != nil {
			r.logger.Warn("rabbitmq channel open failed, reconnecting", zap.Error(err))
			_ = r.conn.Close()
			r.conn = nil
			r.live.Store(nil)
			continue
		}

		if r.declared != r.conn {
			if err := declareTopology(ch); err != nil {
				_ = ch.Close()
				return nil, err
			}
			r.declared = r.conn
		}
		return ch, nil
	}

	return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect")
}

func (r *RabbitMQ) connectLocked(ctx context.Context) error {
	if r.conn != nil && !r.conn.IsClosed() {
		return nil
	}

	delay := minReconnectDelay
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			r.conn = conn
			r.live.Store(conn)
			return nil
		}

		r.logger.Warn("rabbitmq dial failed",
			zap.Duration("retryIn", delay),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return fmt.Errorf("rabbitmq reconnect canceled: %w", err)
		}
		delay = nextReconnectDelay(delay)
	}
}

func nextReconnectDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > maxReconnectDelay {
		return maxReconnectDelay
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// queueArgs routes rejected alarm messages to the queue's dead-letter queue.
func queueArgs(queue string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": queue,
	}
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	for _, queue := range WorkQueueNames() {
		dlq := DLQName(queue)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, queue, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", dlq, err)
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, queueArgs(queue)); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", queue, err)
		}
	}

	return nil
}
