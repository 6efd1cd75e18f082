package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs Store with a real Redis-compatible server, matching the
// distributed key layout in §6: individual fields, the `_state_json`
// document, and per-server XADD/XREAD streams.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials a Redis-compatible endpoint (addr like "host:6379").
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if isRedisNil(err) {
		return "", ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) PipelineSet(ctx context.Context, values map[string]string) error {
	pipe := s.client.Pipeline()
	for k, v := range values {
		pipe.Set(ctx, k, v, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) XAdd(ctx context.Context, stream string, fields map[string]string) error {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Err()
}

func (s *RedisStore) XRead(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]StreamEntry, error) {
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   block,
	}).Result()
	if isRedisNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []StreamEntry
	for _, s := range res {
		for _, msg := range s.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if s, ok := v.(string); ok {
					fields[k] = s
				}
			}
			out = append(out, StreamEntry{ID: msg.ID, Fields: fields})
		}
	}
	return out, nil
}

func isRedisNil(err error) bool {
	return err == redis.Nil
}
