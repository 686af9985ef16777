// Package cache provides an optional Redis-backed cache of raw detection
// responses, keyed by a hash of the image bytes. Re-uploading the same
// document skips the detection call entirely. Session state itself is never
// cached or persisted.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DetectionCache handles Redis-based caching of detection service responses.
type DetectionCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance counters.
type cacheStats struct {
	hits   int64
	misses int64
}

// New creates a Redis-backed detection cache and verifies the connection.
func New(config *Config, logger *zap.Logger) (*DetectionCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	cache := &DetectionCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Detection cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// Key derives the cache key for an image payload. The use_llm flag is part
// of the key because it changes what the detection service returns.
func (dc *DetectionCache) Key(data []byte, useLLM bool) string {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:det:%s:%t", dc.config.KeyPrefix, hash[:16], useLLM)
}

// Get returns the cached raw detection response, if present. Lookup failures
// are treated as misses; the detection call is the fallback either way.
func (dc *DetectionCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := dc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		dc.stats.misses++
		dc.logger.Debug("Cache miss", zap.String("key", key))
		return nil, false
	} else if err != nil {
		dc.logger.Error("Cache lookup failed", zap.Error(err))
		dc.stats.misses++
		return nil, false
	}

	dc.stats.hits++
	dc.logger.Debug("Cache hit", zap.String("key", key), zap.Int("bytes", len(raw)))
	return raw, true
}

// Store caches a raw detection response with the configured TTL.
func (dc *DetectionCache) Store(ctx context.Context, key string, raw []byte) error {
	if err := dc.client.Set(ctx, key, raw, dc.config.DefaultTTL).Err(); err != nil {
		dc.logger.Error("Failed to cache detection response", zap.Error(err))
		return fmt.Errorf("failed to cache detection response: %w", err)
	}

	dc.logger.Debug("Detection response cached",
		zap.String("key", key),
		zap.Int("bytes", len(raw)))
	return nil
}

// GetStats returns cache performance statistics.
func (dc *DetectionCache) GetStats(ctx context.Context) (*Stats, error) {
	info, err := dc.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   dc.stats.hits,
		Misses: dc.stats.misses,
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			if mem, err := strconv.ParseInt(strings.TrimPrefix(line, "used_memory:"), 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := dc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached detection responses.
func (dc *DetectionCache) Clear(ctx context.Context) error {
	pattern := dc.config.KeyPrefix + ":det:*"

	iter := dc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := dc.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}

	dc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection.
func (dc *DetectionCache) Close() error {
	if dc.client != nil {
		return dc.client.Close()
	}
	return nil
}

// maskRedisURL masks credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
