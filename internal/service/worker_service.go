package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/alarm"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"github.com/kursadbilgin/webhook-dispatcher/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency   = 1
	defaultInfraRetryDelay = 5 * time.Second
)

// AlarmFirer runs one alarm cycle for a webhook identity.
type AlarmFirer interface {
	Fire(ctx context.Context, webhookID string) error
}

type WorkerService struct {
	dispatcher      AlarmFirer
	alarms          alarm.Scheduler
	consumer        queue.Consumer
	logger          *zap.Logger
	metrics         *observability.Metrics
	concurrency     int
	infraRetryDelay time.Duration
	now             func() time.Time
}

func NewWorkerService(
	dispatcher AlarmFirer,
	alarms alarm.Scheduler,
	consumer queue.Consumer,
	concurrency int,
	infraRetryDelay time.Duration,
	logger *zap.Logger,
) (*WorkerService, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if alarms == nil {
		return nil, fmt.Errorf("alarm scheduler is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if infraRetryDelay <= 0 {
		infraRetryDelay = defaultInfraRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		dispatcher:      dispatcher,
		alarms:          alarms,
		consumer:        consumer,
		logger:          logger,
		concurrency:     concurrency,
		infraRetryDelay: infraRetryDelay,
		now:             time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the alarm queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage fires the alarm. Infrastructure failures re-arm the alarm
// so the next firing re-derives behaviour from the last persisted state;
// the message is only nacked when even the re-arm fails.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.AlarmMessage) error {
	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	ctx = observability.WithWebhookID(ctx, msg.WebhookID)
	err := s.dispatcher.Fire(ctx, msg.WebhookID)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	retryAt := s.now().Add(s.infraRetryDelay)
	observability.LoggerFromContext(s.logger, ctx).Error("alarm cycle failed, re-arming",
		zap.Time("retryAt", retryAt),
		zap.Error(err),
	)

	if rearmErr := s.alarms.SetAlarm(ctx, msg.WebhookID, retryAt); rearmErr != nil {
		return fmt.Errorf("alarm cycle failed: %w (failed to re-arm: %v)", err, rearmErr)
	}
	return nil
}
