/*
Copyright 2025 Dfewatch Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/internal/redisdb"
)

// Cache interface provides the basic operations for a cache system. The main
// consumer is the tax-authority client, which caches public key lookups to
// spare the rate-limited government endpoint.
type Cache interface {
	// Set stores a value in the cache with a specified time-to-live.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get retrieves a value from the cache into data. A cache miss is not an
	// error; data is simply left untouched.
	Get(ctx context.Context, key string, data interface{}) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache on top of Redis with a local TinyLFU layer in
// front for hot keys.
type RedisCache struct {
	cache *cache.Cache
}

// cacheSize defines the size of the local cache in number of entries.
const cacheSize = 128000

// NewCache creates a new RedisCache from the loaded configuration.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return newRedisCache(cfg.Redis.Dns)
}

func newRedisCache(address string) (*RedisCache, error) {
	client, err := redisdb.NewRedisClient(address)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})

	return &RedisCache{cache: c}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
