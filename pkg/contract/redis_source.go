package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client used to store metadata.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSource reads metadata stored under a Redis key.
type RedisSource struct {
	client RedisClient
	key    string
}

// NewRedisSource creates a source reading key.
func NewRedisSource(client RedisClient, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

// RedisKey is the default key for the metadata of a contract address.
func RedisKey(contract string) string {
	return getRedisKey("abi", contract)
}

// Fetch reads the stored document.
func (s *RedisSource) Fetch(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("key %s not found", s.key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	if len(data) > maxMetadataSize {
		return nil, fmt.Errorf("metadata exceeds %d bytes", maxMetadataSize)
	}
	return data, nil
}

// Store validates data as metadata and writes it to the source's key.
func (s *RedisSource) Store(ctx context.Context, data []byte) error {
	if _, err := ParseMetadata(data); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisSource) String() string {
	return "redis:" + s.key
}

// getRedisKey constructs a Redis key for various types
func getRedisKey(keyType string, parts ...string) string {
	return fmt.Sprintf("%s:%s", keyType, strings.Join(parts, ":"))
}
