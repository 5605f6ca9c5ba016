package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/alarm"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/lock"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"github.com/kursadbilgin/webhook-dispatcher/internal/provider"
	"github.com/kursadbilgin/webhook-dispatcher/internal/ratelimit"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"github.com/kursadbilgin/webhook-dispatcher/internal/signer"
	"go.uber.org/zap"
)

// DispatcherService owns the per-webhook state machine. Every operation for
// an identity runs while holding that identity's lock.
type DispatcherService struct {
	states      repository.StateRepository
	alarms      alarm.Scheduler
	locker      lock.Locker
	signer      signer.TokenSigner
	executor    provider.Executor
	rateLimiter ratelimit.RateLimiter
	maxWait     time.Duration
	telemetry   *observability.Telemetry
	metrics     *observability.Metrics
	policy      domain.RetryPolicy
	logger      *zap.Logger
	now         func() time.Time
}

type DispatcherDeps struct {
	States   repository.StateRepository
	Alarms   alarm.Scheduler
	Locker   lock.Locker
	Signer   signer.TokenSigner
	Executor provider.Executor
	// RateLimiter is optional. A firing waits on it for at most
	// RateLimitMaxWait, then delivers anyway.
	RateLimiter      ratelimit.RateLimiter
	RateLimitMaxWait time.Duration
	Telemetry        *observability.Telemetry
	Metrics          *observability.Metrics
	Policy           domain.RetryPolicy
	Logger           *zap.Logger
}

const DefaultRateLimitMaxWait = 5 * time.Second

func NewDispatcherService(deps DispatcherDeps) (*DispatcherService, error) {
	if deps.States == nil {
		return nil, fmt.Errorf("state repository is required")
	}
	if deps.Alarms == nil {
		return nil, fmt.Errorf("alarm scheduler is required")
	}
	if deps.Locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if deps.Signer == nil {
		return nil, fmt.Errorf("token signer is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("delivery executor is required")
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RateLimitMaxWait <= 0 {
		deps.RateLimitMaxWait = DefaultRateLimitMaxWait
	}

	return &DispatcherService{
		states:      deps.States,
		alarms:      deps.Alarms,
		locker:      deps.Locker,
		signer:      deps.Signer,
		executor:    deps.Executor,
		rateLimiter: deps.RateLimiter,
		maxWait:     deps.RateLimitMaxWait,
		telemetry:   deps.Telemetry,
		metrics:     deps.Metrics,
		policy:      deps.Policy,
		logger:      deps.Logger,
		now:         time.Now,
	}, nil
}

// Create provisions a webhook. Repeating a create for a known identity
// returns the stored state without writing or arming anything.
func (s *DispatcherService) Create(ctx context.Context, input domain.CreateWebhookInput) (*domain.DispatcherState, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	id := input.ID
	if err := domain.ValidateIdentity(id); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock webhook: %w", err)
	}
	defer unlock()

	existing, err := s.states.Get(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load webhook state: %w", err)
	}

	now := s.now()
	state := domain.NewDispatcherState(input, now)

	// A stray alarm without state is a no-op when it fires, so arm first.
	if err := s.alarms.SetAlarm(ctx, state.ID, now); err != nil {
		return nil, fmt.Errorf("failed to arm first attempt: %w", err)
	}
	if err := s.states.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist webhook state: %w", err)
	}

	observability.LoggerFromContext(s.logger, ctx).Info("webhook provisioned",
		zap.String("webhookId", state.ID),
		zap.String("target", state.Target),
	)

	return state, nil
}

func (s *DispatcherService) Get(ctx context.Context, id string) (*domain.DispatcherState, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := domain.ValidateIdentity(id); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock webhook: %w", err)
	}
	defer unlock()

	state, err := s.states.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load webhook state: %w", err)
	}
	return state, nil
}

// Fire runs one alarm cycle for id: cleanup when terminal, a single delivery
// attempt when pending. Only store and scheduler failures are returned.
func (s *DispatcherService) Fire(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	record := observability.TelemetryRecord{Event: observability.EventAlarm}
	defer func() { s.telemetry.Send(record) }()

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to lock webhook: %w", err)
	}
	defer unlock()

	state, err := s.states.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("dropping alarm, webhook has no state", zap.String("webhookId", id))
			if err := s.alarms.DeleteAlarm(ctx, id); err != nil {
				return fmt.Errorf("failed to delete alarm: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to load webhook state: %w", err)
	}
	record.WebhookID = state.ID

	if state.IsTerminal() {
		return s.cleanup(ctx, state)
	}

	attempt := s.attempt(ctx, state)
	record.Status = attempt.Status

	now := s.now()
	next, schedule := domain.ApplyAttempt(*state, attempt, now, s.policy)

	if err := s.alarms.SetAlarm(ctx, next.ID, schedule.At); err != nil {
		return fmt.Errorf("failed to arm next alarm: %w", err)
	}
	if err := s.states.Put(ctx, &next); err != nil {
		return fmt.Errorf("failed to persist webhook state: %w", err)
	}

	s.observeTransition(&next, attempt, schedule)
	return nil
}

func (s *DispatcherService) cleanup(ctx context.Context, state *domain.DispatcherState) error {
	if err := s.alarms.DeleteAlarm(ctx, state.ID); err != nil {
		return fmt.Errorf("failed to delete alarm: %w", err)
	}
	if err := s.states.DeleteAll(ctx, state.ID); err != nil {
		return fmt.Errorf("failed to delete webhook state: %w", err)
	}

	s.metrics.IncCleanup()
	s.logger.Info("webhook retention expired, state deleted",
		zap.String("webhookId", state.ID),
		zap.String("status", state.Status.String()),
	)
	return nil
}

// attempt performs one delivery. Every failure mode, including signing and
// payload decoding, is folded into the returned Attempt.
func (s *DispatcherService) attempt(ctx context.Context, state *domain.DispatcherState) domain.Attempt {
	if s.rateLimiter != nil {
		s.waitForRateLimit(ctx, state)
	}

	start := s.now()
	resp, err := s.deliver(ctx, state)
	s.metrics.ObserveDeliveryDuration(s.now().Sub(start))

	if err != nil {
		s.metrics.IncDeliveryAttempt(false, provider.FailureReason(err))
		s.logger.Warn("delivery attempt failed",
			zap.String("webhookId", state.ID),
			zap.Int("attempt", len(state.Attempts)+1),
			zap.Error(err),
		)
		return domain.FailedAttempt(s.now(), provider.StatusCodeOf(err), err)
	}

	s.metrics.IncDeliveryAttempt(true, "")
	return domain.SuccessfulAttempt(s.now(), resp.StatusCode)
}

// waitForRateLimit runs under the identity lock, so the wait is capped by
// maxWait rather than by the caller's context alone.
func (s *DispatcherService) waitForRateLimit(ctx context.Context, state *domain.DispatcherState) {
	waitCtx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()

	if err := s.rateLimiter.Wait(waitCtx, ratelimit.TargetKey(state.Target)); err != nil {
		s.logger.Warn("rate limiter wait failed, delivering anyway",
			zap.String("webhookId", state.ID),
			zap.Duration("maxWait", s.maxWait),
			zap.Error(err),
		)
	}
}

func (s *DispatcherService) deliver(ctx context.Context, state *domain.DispatcherState) (*provider.DeliveryResponse, error) {
	body, err := state.DecodedPayload()
	if err != nil {
		return nil, err
	}

	token, err := s.signer.Sign(state.ID)
	if err != nil {
		return nil, err
	}

	return s.executor.Deliver(ctx, provider.DeliveryRequest{
		Target: state.Target,
		Token:  token,
		Body:   body,
	})
}

func (s *DispatcherService) observeTransition(next *domain.DispatcherState, attempt domain.Attempt, schedule domain.Schedule) {
	fields := []zap.Field{
		zap.String("webhookId", next.ID),
		zap.String("status", next.Status.String()),
		zap.Int("attempts", len(next.Attempts)),
		zap.Int("httpStatus", attempt.Status),
		zap.Time("nextAlarmAt", schedule.At),
	}

	if next.IsTerminal() {
		s.metrics.IncTerminal(next.Status.String())
		s.logger.Info("webhook reached terminal status", fields...)
		return
	}

	s.metrics.IncRetryScheduled()
	s.logger.Info("delivery retry scheduled", fields...)
}
