package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisPartitionPrefix = "webhook:"

var _ StateRepository = (*RedisStateRepo)(nil)

// RedisStateRepo keeps each identity's partition in a hash named webhook:{id}.
type RedisStateRepo struct {
	client *redis.Client
}

func NewRedisStateRepo(client *redis.Client) (*RedisStateRepo, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStateRepo{client: client}, nil
}

func (r *RedisStateRepo) Get(ctx context.Context, webhookID string) (*domain.DispatcherState, error) {
	raw, err := r.client.HGet(ctx, partitionKey(webhookID), StateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dispatcher state: %w", err)
	}

	return decodeState(raw)
}

func (r *RedisStateRepo) Put(ctx context.Context, state *domain.DispatcherState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}

	if err := r.client.HSet(ctx, partitionKey(state.ID), StateKey, raw).Err(); err != nil {
		return fmt.Errorf("failed to write dispatcher state: %w", err)
	}
	return nil
}

func (r *RedisStateRepo) DeleteAll(ctx context.Context, webhookID string) error {
	if err := r.client.Del(ctx, partitionKey(webhookID)).Err(); err != nil {
		return fmt.Errorf("failed to delete dispatcher state: %w", err)
	}
	return nil
}

func partitionKey(webhookID string) string {
	return redisPartitionPrefix + webhookID
}
