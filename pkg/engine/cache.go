package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

// Store is an in-memory cache with per-item expiration.
type Store struct {
	items map[string]storeItem
	mu    sync.RWMutex
}

type storeItem struct {
	value      [][]any
	expiration time.Time
}

func NewStore() *Store {
	return &Store{items: make(map[string]storeItem)}
}

// Set stores value under key for d.
func (s *Store) Set(key string, value [][]any, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = storeItem{value: value, expiration: time.Now().Add(d)}
}

// Get returns the unexpired value stored under key.
func (s *Store) Get(key string) ([][]any, bool) {
	s.mu.RLock()
	item, found := s.items[key]
	s.mu.RUnlock()

	if !found || time.Now().After(item.expiration) {
		return nil, false
	}
	return item.value, true
}

// CleanupExpired removes expired items.
func (s *Store) CleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, item := range s.items {
		if now.After(item.expiration) {
			delete(s.items, key)
		}
	}
}

// Clear removes all items.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.items)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Cached memoises query results of an Engine for a fixed TTL. Only queries
// whose context was marked with WithCache(ctx, true) are cached. Exec and
// queries marked with WithWrite clear the cache.
type Cached struct {
	Engine
	store *Store
	ttl   time.Duration
}

func NewCached(e Engine, ttl time.Duration) *Cached {
	return &Cached{Engine: e, store: NewStore(), ttl: ttl}
}

func (c *Cached) Query(ctx context.Context, q sqlbuild.Query) ([][]any, error) {
	if isWrite(ctx) {
		rows, err := c.Engine.Query(ctx, q)
		c.store.Clear()
		return rows, err
	}
	if !cacheEnabled(ctx) || c.ttl <= 0 {
		return c.Engine.Query(ctx, q)
	}

	key := q.SQL + "\x00" + fmt.Sprintf("%#v", q.Args)
	if rows, ok := c.store.Get(key); ok {
		return rows, nil
	}
	rows, err := c.Engine.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	c.store.Set(key, rows, c.ttl)
	return rows, nil
}

func (c *Cached) Exec(ctx context.Context, q sqlbuild.Query) (Result, error) {
	res, err := c.Engine.Exec(ctx, q)
	c.store.Clear()
	return res, err
}

// Run removes expired items every interval until ctx is done.
func (c *Cached) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.store.CleanupExpired()
		}
	}
}
