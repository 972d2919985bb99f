package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/subramanya1997/agentic-trust-platform/internal/metrics"
)

// Client 是 Store 依赖的最小 Redis 命令集。
// redis.UniversalClient 天然满足该接口，测试时可以用假实现替换。
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Store Redis 缓存读写封装，实现 cache-aside 模式的存取原语。
//
// 所有存储层错误（连接失败、序列化失败）都在内部降级为未命中/空操作，
// 只记 Warn 日志与指标，绝不向调用方抛出——缓存故障不允许拖垮业务请求。
type Store struct {
	rdb    Client
	logger *zap.Logger
}

// NewStore 创建缓存 Store。
func NewStore(rdb Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, logger: logger}
}

// Get 读取缓存并将 JSON 值反序列化到 dest，返回是否命中。
// 任何错误（包括反序列化失败）都按未命中处理。
func (s *Store) Get(ctx context.Context, key string, dest interface{}) bool {
	prefix := keyPrefix(key)

	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			metrics.CacheErrorsTotal.WithLabelValues("get").Inc()
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		metrics.CacheMissesTotal.WithLabelValues(prefix).Inc()
		return false
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		metrics.CacheErrorsTotal.WithLabelValues("get").Inc()
		s.logger.Warn("cache value decode failed", zap.String("key", key), zap.Error(err))
		metrics.CacheMissesTotal.WithLabelValues(prefix).Inc()
		return false
	}

	metrics.CacheHitsTotal.WithLabelValues(prefix).Inc()
	return true
}

// Set 将值 JSON 序列化后写入缓存，同键覆盖旧值。失败时仅记日志。
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		metrics.CacheErrorsTotal.WithLabelValues("set").Inc()
		s.logger.Warn("cache value encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		metrics.CacheErrorsTotal.WithLabelValues("set").Inc()
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete 删除单个缓存键。
func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		metrics.CacheErrorsTotal.WithLabelValues("delete").Inc()
		s.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// DeletePattern 删除所有匹配 pattern 的键（如 "user:*"），返回删除数量。
// 使用 SCAN 游标遍历，避免 KEYS 阻塞 Redis。
func (s *Store) DeletePattern(ctx context.Context, pattern string) int {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			metrics.CacheErrorsTotal.WithLabelValues("delete_pattern").Inc()
			s.logger.Warn("cache scan failed", zap.String("pattern", pattern), zap.Error(err))
			return deleted
		}

		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				metrics.CacheErrorsTotal.WithLabelValues("delete_pattern").Inc()
				s.logger.Warn("cache delete failed", zap.String("pattern", pattern), zap.Error(err))
				return deleted
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted
}
