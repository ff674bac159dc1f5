// Package pgx manages named PostgreSQL connection pools and waits for the
// database to accept connections before handing a pool out.
package pgx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrPoolNotFound      = errors.New("connection pool not found")
	ErrPoolAlreadyExists = errors.New("connection pool already exists")
	ErrNoActivePool      = errors.New("no active connection pool")
)

// Pool describes a pool to open. Config takes precedence over ConnString.
type Pool struct {
	Name       string
	ConnString string
	Config     *pgxpool.Config
	// MaxConns overrides the pool size when positive.
	MaxConns int32
	// PingTimeout bounds how long Add waits for the database. Zero means
	// DefaultPingTimeout.
	PingTimeout time.Duration
}

// PoolManager keeps pools by name. One of them is active; the first pool
// added becomes active unless another is chosen.
type PoolManager struct {
	mu     sync.RWMutex
	pools  map[string]*pgxpool.Pool
	active string
}

func NewPoolManager() *PoolManager {
	return &PoolManager{pools: make(map[string]*pgxpool.Pool)}
}

// Add opens the pool, waits until the database answers a ping and stores
// it under p.Name. Passing true makes it the active pool.
func (m *PoolManager) Add(ctx context.Context, p Pool, setActive ...bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[p.Name]; exists {
		return fmt.Errorf("pgx: %q: %w", p.Name, ErrPoolAlreadyExists)
	}

	pool, err := open(ctx, p)
	if err != nil {
		return fmt.Errorf("pgx: %q: %w", p.Name, err)
	}
	m.pools[p.Name] = pool

	if m.active == "" || (len(setActive) > 0 && setActive[0]) {
		m.active = p.Name
	}
	return nil
}

func (m *PoolManager) Get(name string) (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("pgx: %q: %w", name, ErrPoolNotFound)
	}
	return pool, nil
}

func (m *PoolManager) Active() (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == "" {
		return nil, fmt.Errorf("pgx: %w", ErrNoActivePool)
	}
	return m.pools[m.active], nil
}

func (m *PoolManager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[name]; !ok {
		return fmt.Errorf("pgx: %q: %w", name, ErrPoolNotFound)
	}
	m.active = name
	return nil
}

// Remove closes the named pool. When it was active, the first remaining
// pool by name becomes active.
func (m *PoolManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[name]
	if !ok {
		return fmt.Errorf("pgx: %q: %w", name, ErrPoolNotFound)
	}
	pool.Close()
	delete(m.pools, name)

	if m.active == name {
		m.active = ""
		if names := slices.Sorted(maps.Keys(m.pools)); len(names) > 0 {
			m.active = names[0]
		}
	}
	return nil
}

// Close closes every pool. The manager is empty afterwards.
func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pool := range m.pools {
		pool.Close()
	}
	clear(m.pools)
	m.active = ""
}

// List returns the pool names in order.
func (m *PoolManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.pools))
}

func open(ctx context.Context, p Pool) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(p)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := WaitReady(ctx, pool.Ping, p.PingTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func poolConfig(p Pool) (*pgxpool.Config, error) {
	cfg := p.Config
	if cfg == nil {
		if p.ConnString == "" {
			return nil, errors.New("either Config or ConnString must be provided")
		}
		var err error
		if cfg, err = pgxpool.ParseConfig(p.ConnString); err != nil {
			return nil, fmt.Errorf("parsing connection string: %w", err)
		}
	} else {
		cfg = cfg.Copy()
	}
	if p.MaxConns > 0 {
		cfg.MaxConns = p.MaxConns
	}
	return cfg, nil
}
