package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore guarda as chaves no Redis sob "engine:<namespace>:<key>"
type RedisStore struct {
	R      *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis cria o store; ttl 0 = sem expiração
func NewRedis(r *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{R: r, prefix: "engine", ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.R.Get(ctx, join(s.prefix, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.R.Set(ctx, join(s.prefix, key), value, s.ttl).Err()
}

func (s *RedisStore) Namespace(prefix string) Store {
	return &RedisStore{R: s.R, prefix: join(s.prefix, prefix), ttl: s.ttl}
}
