package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/storefront-gateway/internal/cart"
)

type memoryEntry struct {
	snapshot  cart.Snapshot
	updatedAt time.Time
}

// MemoryRepository хранит снимки в памяти процесса. Используется, когда БД не настроена.
type MemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]memoryEntry
	checkouts map[string]Checkout
	now       func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		snapshots: make(map[string]memoryEntry),
		checkouts: make(map[string]Checkout),
		now:       time.Now,
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

// Load возвращает снимок корзины владельца.
func (r *MemoryRepository) Load(_ context.Context, ownerKey string) (cart.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.snapshots[ownerKey]
	if !ok {
		return cart.Snapshot{}, ErrCartNotFound
	}
	return copySnapshot(e.snapshot), nil
}

// Save сохраняет снимок корзины владельца.
func (r *MemoryRepository) Save(_ context.Context, ownerKey string, s cart.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots[ownerKey] = memoryEntry{snapshot: copySnapshot(s), updatedAt: r.now()}
	return nil
}

// Delete удаляет снимок корзины владельца.
func (r *MemoryRepository) Delete(_ context.Context, ownerKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.snapshots, ownerKey)
	return nil
}

// DeleteStale удаляет снимки старше maxAge.
func (r *MemoryRepository) DeleteStale(_ context.Context, maxAge time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	var n int64
	for k, e := range r.snapshots {
		if e.updatedAt.Before(cutoff) {
			delete(r.snapshots, k)
			n++
		}
	}
	return n, nil
}

// RecordCheckout сохраняет запись об оформлении заказа.
func (r *MemoryRepository) RecordCheckout(_ context.Context, c Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.checkouts[c.IdempotencyKey]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCheckout, c.IdempotencyKey)
	}
	c.CreatedAt = r.now()
	r.checkouts[c.IdempotencyKey] = c
	return nil
}

// ListCheckouts возвращает оформления владельца, новые первыми.
func (r *MemoryRepository) ListCheckouts(_ context.Context, ownerKey string, limit int) ([]Checkout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []Checkout
	for _, c := range r.checkouts {
		if c.OwnerKey == ownerKey {
			res = append(res, c)
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func copySnapshot(s cart.Snapshot) cart.Snapshot {
	lines := make([]cart.Line, len(s.Lines))
	copy(lines, s.Lines)
	return cart.Snapshot{Lines: lines, Adjustments: s.Adjustments}
}
