package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/types"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
}

// DefaultRedisConfig returns the default Redis store configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "taskforge:state:",
		PoolSize:  10,
	}
}

// RedisStore keeps state in a Redis server. Increment maps onto
// INCRBY, which is atomic server-side, so concurrent workers across
// the process never lose updates.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger.With(zap.String("component", "state_redis")),
	}, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, encoded, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (any, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, types.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeValue(raw), nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, s.prefix+key, delta).Result()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalKeys: int64(len(keys)), Backend: "redis"}, nil
}

// scanKeys walks the prefixed keyspace with SCAN, never KEYS.
func (s *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	var cursor uint64
	var all []string
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 512).Result()
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return all, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
