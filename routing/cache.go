// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch-core/models"
)

// Cache holds recently computed routes. Entries are weakly consistent with the
// providers and rebuildable, so a lost entry only costs one extra vendor call.
type Cache interface {
	Get(ctx context.Context, key string) (*Route, bool)
	Set(ctx context.Context, key string, route *Route)
}

// cacheKey buckets coordinates to ~100m so nearby requests share entries.
func cacheKey(origin, dest models.Location, emergency bool) string {
	return fmt.Sprintf("route:%.3f,%.3f:%.3f,%.3f:%t",
		origin.Lat, origin.Lng, dest.Lat, dest.Lng, emergency)
}

type memoryCacheEntry struct {
	route     *Route
	expiresAt time.Time
}

// MemoryCache is the in-process route cache used when no Redis endpoint is set.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
}

// NewMemoryCache creates an in-process cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
	}
}

// Get returns a live cached route.
func (c *MemoryCache) Get(ctx context.Context, key string) (*Route, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	cp := *entry.route
	return &cp, true
}

// Set stores a route, evicting expired entries opportunistically.
func (c *MemoryCache) Set(ctx context.Context, key string, route *Route) {
	cp := *route
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryCacheEntry{route: &cp, expiresAt: now.Add(c.ttl)}
}

// RedisCache shares routes across instances through Redis. Failures degrade to
// cache misses; the cache never fails a route computation.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache from a redis:// URL.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Get returns a cached route, treating any Redis error as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*Route, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var route Route
	if err := json.Unmarshal(data, &route); err != nil {
		return nil, false
	}
	return &route, true
}

// Set stores a route best-effort.
func (c *RedisCache) Set(ctx context.Context, key string, route *Route) {
	data, err := json.Marshal(route)
	if err != nil {
		return
	}
	c.client.Set(ctx, key, data, c.ttl)
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
