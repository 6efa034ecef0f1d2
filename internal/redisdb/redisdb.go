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

package redisdb

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a single-instance Redis client built from a DSN.
type Redis struct {
	address string
	client  redis.UniversalClient
}

// ParseRedisURL turns a DSN into client options. Bare docker-style addresses
// ("redis:6379") are accepted as-is; everything else goes through the
// canonical URL parser.
func ParseRedisURL(rawURL string) (*redis.Options, error) {
	if strings.Count(rawURL, ":") == 1 && !strings.Contains(rawURL, "@") && !strings.Contains(rawURL, "//") {
		return &redis.Options{Addr: rawURL}, nil
	}
	return redis.ParseURL(rawURL)
}

// NewRedisClient connects to Redis at the given address and pings it before
// returning, so a bad DSN fails at startup rather than on first use.
func NewRedisClient(address string) (*Redis, error) {
	opts, err := ParseRedisURL(address)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return &Redis{address: address, client: client}, nil
}

// Client returns the underlying universal client for direct Redis operations.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}
