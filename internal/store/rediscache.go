// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a best-effort secondary document cache backed by Redis.
// The filesystem remains the source of truth; writes go through the cache
// so a reader in the same process session never sees a stale value for its
// own run. Every cache failure is swallowed.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisCache creates a RedisCache with the given entry TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, timeout: 2 * time.Second}
}

// Get returns the cached bytes for key, if present.
func (c *RedisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores bytes under key with the cache TTL.
func (c *RedisCache) Set(key string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_ = c.client.Set(ctx, key, value, c.ttl).Err()
}

// Delete removes key from the cache.
func (c *RedisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_ = c.client.Del(ctx, key).Err()
}
