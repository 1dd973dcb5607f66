package store

import (
	"context"

	"github.com/pixelprogress/server/cache"
)

// Cache stores documents as plain KV entries without expiry.
type Cache struct {
	c cache.Cache
}

// NewCache returns a Store backed by the shared cache (Redis or in-process).
func NewCache(c cache.Cache) *Cache {
	return &Cache{c: c}
}

func (s *Cache) Load(ctx context.Context, key string) ([]byte, error) {
	v, err := s.c.Get(ctx, key)
	if cache.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (s *Cache) Save(ctx context.Context, key string, value []byte) error {
	return s.c.Set(ctx, key, string(value), 0)
}

func (s *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.c.Del(ctx, keys...)
}
