package utils

import (
	"context"
	"errors"
	"strconv"
	"time"

	"participation-points/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTotalTTL = 30 * time.Second
	cacheOpTimeout  = 2 * time.Second
	totalKeyPrefix  = "points:total:"
)

// NewRedisClient builds a client from config. A failed ping is logged and tolerated;
// every cache path falls back to the database.
func NewRedisClient(cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  cacheOpTimeout,
		WriteTimeout: cacheOpTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed, total cache degraded", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return client
}

// RedisTotalCache is a best-effort read-through cache for user totals.
type RedisTotalCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisTotalCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisTotalCache {
	if ttl <= 0 {
		ttl = defaultTotalTTL
	}
	return &RedisTotalCache{client: client, ttl: ttl, logger: logger}
}

func totalKey(userID string) string {
	return totalKeyPrefix + userID
}

func (c *RedisTotalCache) Get(ctx context.Context, userID string) (int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, totalKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("total cache get failed", zap.String("user_id", userID), zap.Error(err))
		}
		return 0, false
	}
	total, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

func (c *RedisTotalCache) Set(ctx context.Context, userID string, total int64) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, totalKey(userID), total, c.ttl).Err(); err != nil {
		c.logger.Warn("total cache set failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (c *RedisTotalCache) Invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.client.Del(ctx, totalKey(userID)).Err(); err != nil {
		c.logger.Warn("total cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
