package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps encoded flows under flow:{id}. A positive TTL expires
// flows that have not been saved for that long.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Flow, error) {
	defer observe("redis", "load", time.Now())
	if err := checkID(id); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	return decode(id, data)
}

func (s *RedisStore) Save(ctx context.Context, f *Flow) error {
	defer observe("redis", "save", time.Now())
	if err := checkID(f.ID); err != nil {
		return err
	}

	data, err := encode(f)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(f.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// Health pings redis
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
