// Package cache кэширует снимки корзины в Redis перед основным хранилищем.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-gateway/internal/cart"
)

// ErrCacheMiss возвращается, если ключа нет в кэше.
var ErrCacheMiss = errors.New("cache miss")

// RedisCache хранит снимки корзины с TTL и случайным разбросом.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewRedisCache создаёт кэш поверх клиента Redis.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

// Get возвращает снимок корзины владельца.
func (r *RedisCache) Get(ctx context.Context, ownerKey string) (cart.Snapshot, error) {
	data, err := r.client.Get(ctx, cacheKey(ownerKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cart.Snapshot{}, ErrCacheMiss
	}
	if err != nil {
		return cart.Snapshot{}, fmt.Errorf("redis get failed: %w", err)
	}

	var s cart.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return cart.Snapshot{}, fmt.Errorf("unmarshal snapshot failed: %w", err)
	}
	return s, nil
}

// Set записывает снимок корзины владельца.
func (r *RedisCache) Set(ctx context.Context, ownerKey string, s cart.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := r.client.Set(ctx, cacheKey(ownerKey), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete удаляет снимок из кэша.
func (r *RedisCache) Delete(ctx context.Context, ownerKey string) error {
	if err := r.client.Del(ctx, cacheKey(ownerKey)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(ownerKey string) string {
	return fmt.Sprintf("cart:%s", ownerKey)
}

// SnapshotStore основное хранилище снимков.
type SnapshotStore interface {
	Load(ctx context.Context, ownerKey string) (cart.Snapshot, error)
	Save(ctx context.Context, ownerKey string, s cart.Snapshot) error
	Delete(ctx context.Context, ownerKey string) error
}

// CachedStore читает снимки сначала из Redis, пишет в хранилище и затем обновляет кэш.
// Ошибки Redis не прерывают операцию, а только журналируются.
type CachedStore struct {
	next   SnapshotStore
	cache  *RedisCache
	logger *zap.Logger
}

// NewCachedStore оборачивает хранилище кэшем.
func NewCachedStore(next SnapshotStore, cache *RedisCache, logger *zap.Logger) *CachedStore {
	return &CachedStore{next: next, cache: cache, logger: logger}
}

// Load возвращает снимок из кэша или из хранилища с прогревом кэша.
func (s *CachedStore) Load(ctx context.Context, ownerKey string) (cart.Snapshot, error) {
	snap, err := s.cache.Get(ctx, ownerKey)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("cart cache read failed", zap.Error(err))
	}

	snap, err = s.next.Load(ctx, ownerKey)
	if err != nil {
		return cart.Snapshot{}, err
	}

	if err := s.cache.Set(ctx, ownerKey, snap); err != nil {
		s.logger.Warn("cart cache fill failed", zap.Error(err))
	}
	return snap, nil
}

// Save сохраняет снимок в хранилище и обновляет кэш.
func (s *CachedStore) Save(ctx context.Context, ownerKey string, snap cart.Snapshot) error {
	if err := s.next.Save(ctx, ownerKey, snap); err != nil {
		return err
	}

	if err := s.cache.Set(ctx, ownerKey, snap); err != nil {
		s.logger.Warn("cart cache update failed", zap.Error(err))
		// Кэш не должен отдавать снимок старее хранилища.
		_ = s.cache.Delete(ctx, ownerKey)
	}
	return nil
}

// Delete удаляет снимок из хранилища и кэша.
func (s *CachedStore) Delete(ctx context.Context, ownerKey string) error {
	if err := s.next.Delete(ctx, ownerKey); err != nil {
		return err
	}

	if err := s.cache.Delete(ctx, ownerKey); err != nil {
		s.logger.Warn("cart cache delete failed", zap.Error(err))
	}
	return nil
}
