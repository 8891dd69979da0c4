package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

const (
	ledgerKeyPrefix = "twittwebot:ledger:"
	cursorKeyPrefix = "twittwebot:cursor:"
)

// RedisLedger records interactions as keys with an optional TTL, so the
// ledger survives restarts and expires old posts without a sweeper.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func ledgerRedisKey(postID string, t model.InteractionType) string {
	return ledgerKeyPrefix + postID + ":" + string(t)
}

func (l *RedisLedger) HasInteracted(ctx context.Context, postID string, t model.InteractionType) (bool, error) {
	n, err := l.client.Exists(ctx, ledgerRedisKey(postID, t)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger exists: %w", err)
	}
	return n > 0, nil
}

func (l *RedisLedger) Record(ctx context.Context, postID string, t model.InteractionType) error {
	// SETNX keeps the original timestamp when the record already exists.
	err := l.client.SetNX(ctx, ledgerRedisKey(postID, t), time.Now().UTC().Format(time.RFC3339), l.ttl).Err()
	if err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	return nil
}

// RedisCursorStore persists pagination cursors across restarts.
type RedisCursorStore struct {
	client *redis.Client
}

func NewRedisCursorStore(client *redis.Client) *RedisCursorStore {
	return &RedisCursorStore{client: client}
}

func (s *RedisCursorStore) Get(ctx context.Context, name string) (string, error) {
	value, err := s.client.Get(ctx, cursorKeyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cursor get: %w", err)
	}
	return value, nil
}

func (s *RedisCursorStore) Set(ctx context.Context, name, value string) error {
	if err := s.client.Set(ctx, cursorKeyPrefix+name, value, 0).Err(); err != nil {
		return fmt.Errorf("cursor set: %w", err)
	}
	return nil
}
