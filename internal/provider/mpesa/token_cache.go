package mpesa

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TokenCache stores bearer tokens until shortly before they expire.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// MemoryTokenCache keeps tokens in process.
type MemoryTokenCache struct {
	cache *cache.Cache
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{cache: cache.New(defaultTokenTTL, 10*time.Minute)}
}

func (m *MemoryTokenCache) Get(_ context.Context, key string) (string, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return "", false
	}
	token, ok := v.(string)
	return token, ok
}

func (m *MemoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) {
	m.cache.Set(key, token, ttl)
}

func (m *MemoryTokenCache) Delete(_ context.Context, key string) {
	m.cache.Delete(key)
}

// RedisTokenCache shares tokens between service instances.
// Redis failures degrade to cache misses.
type RedisTokenCache struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

func NewRedisTokenCache(client redis.UniversalClient, logger *zap.Logger) *RedisTokenCache {
	return &RedisTokenCache{client: client, prefix: "mpesa:token:", logger: logger}
}

func (r *RedisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	token, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("token cache read failed", zap.Error(err))
		}
		return "", false
	}
	return token, token != ""
}

func (r *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	if err := r.client.Set(ctx, r.prefix+key, token, ttl).Err(); err != nil {
		r.logger.Warn("token cache write failed", zap.Error(err))
	}
}

func (r *RedisTokenCache) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.logger.Warn("token cache delete failed", zap.Error(err))
	}
}
