package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kurashi-commerce/grandpay-gateway/internal/config"
	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
	"github.com/kurashi-commerce/grandpay-gateway/internal/telemetry"
)

// ErrTempNotFound marks an expired or never-written temp-checkout entry.
var ErrTempNotFound = errors.New("temp checkout state not found")

// RedisTempStore holds temp-checkout state under a TTL, standing in for the
// original's per-visitor session storage.
type RedisTempStore struct {
	client *redis.Client
}

func NewRedisTempStore(client *redis.Client) *RedisTempStore {
	return &RedisTempStore{client: client}
}

func tempKey(tempID string) string {
	return "grandpay:temp_checkout:" + tempID
}

func (s *RedisTempStore) SaveTempCheckout(ctx context.Context, tc *models.TempCheckout) error {
	payload, err := json.Marshal(tc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tempKey(tc.TempID), payload, config.TempStateTTL).Err()
}

func (s *RedisTempStore) GetTempCheckout(ctx context.Context, tempID string) (*models.TempCheckout, error) {
	payload, err := s.client.Get(ctx, tempKey(tempID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTempNotFound
	}
	if err != nil {
		return nil, err
	}
	var tc models.TempCheckout
	if err := json.Unmarshal(payload, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (s *RedisTempStore) DeleteTempCheckout(ctx context.Context, tempID string) error {
	return s.client.Del(ctx, tempKey(tempID)).Err()
}

// RedisLocker serializes reconciliation per correlation key with a TTL-bounded
// SetNX lock.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (bool, error) {
	return l.client.SetNX(ctx, "grandpay:order_lock:"+key, "1", config.OrderLockTTL).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) {
	if err := l.client.Del(ctx, "grandpay:order_lock:"+key).Err(); err != nil {
		telemetry.Logger.Warn("Failed to release order lock",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
