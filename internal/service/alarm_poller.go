package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/alarm"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"github.com/kursadbilgin/webhook-dispatcher/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultAlarmPollInterval = 100 * time.Millisecond
	defaultAlarmBatchSize    = 100
)

// AlarmPoller periodically claims due alarms and hands them to the workers.
type AlarmPoller struct {
	alarms    alarm.Scheduler
	publisher queue.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewAlarmPoller(
	alarms alarm.Scheduler,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*AlarmPoller, error) {
	if alarms == nil {
		return nil, fmt.Errorf("alarm scheduler is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultAlarmPollInterval
	}
	if limit <= 0 {
		limit = defaultAlarmBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlarmPoller{
		alarms:    alarms,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (p *AlarmPoller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *AlarmPoller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Alarms that came due while the process was down fire right away.
	if err := p.tick(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("alarm poller initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("alarm poller scan failed", zap.Error(err))
			}
		}
	}
}

func (p *AlarmPoller) tick(ctx context.Context) error {
	if err := p.poll(ctx); err != nil {
		return err
	}
	p.reportPending(ctx)
	return nil
}

func (p *AlarmPoller) reportPending(ctx context.Context) {
	counter, ok := p.alarms.(alarm.PendingCounter)
	if !ok || p.metrics == nil {
		return
	}
	n, err := counter.Pending(ctx)
	if err != nil {
		p.logger.Warn("failed to count pending alarms", zap.Error(err))
		return
	}
	p.metrics.SetAlarmsPending(n)
}

// poll drains every due alarm, one batch at a time.
func (p *AlarmPoller) poll(ctx context.Context) error {
	for {
		claimed, err := p.alarms.ClaimDue(ctx, p.now(), p.limit)
		if err != nil {
			return fmt.Errorf("failed to claim due alarms: %w", err)
		}
		p.metrics.AddAlarmsClaimed(len(claimed))

		enqueued := true
		for _, a := range claimed {
			if !p.dispatch(ctx, a) {
				enqueued = false
			}
		}

		// Re-armed alarms are already due again; leave them for the next tick.
		if !enqueued || len(claimed) < p.limit {
			return nil
		}
	}
}

func (p *AlarmPoller) dispatch(ctx context.Context, a alarm.Alarm) bool {
	msg := queue.AlarmMessage{WebhookID: a.WebhookID, FireAt: a.FireAt}
	err := p.publisher.Publish(ctx, queue.AlarmQueue, msg)
	if err == nil {
		return true
	}

	p.logger.Error("failed to enqueue alarm, re-arming",
		zap.String("webhookId", a.WebhookID),
		zap.Error(err),
	)

	// Pull the alarm back from its claim lease so the next tick retries it.
	rearmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.alarms.SetAlarm(rearmCtx, a.WebhookID, a.FireAt); err != nil {
		p.logger.Error("failed to re-arm alarm after enqueue failure",
			zap.String("webhookId", a.WebhookID),
			zap.Error(err),
		)
	}
	return false
}
