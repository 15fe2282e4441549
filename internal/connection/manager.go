package connection

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"go-file-engine/internal/model"
)

// Manager owns one pool per resource id.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

func NewManager() *Manager {
	return &Manager{pools: map[string]*Pool{}}
}

// Register creates the pool for a resource, replacing and closing any previous
// one (credential rotation).
func (m *Manager) Register(resourceID string, protocol model.Protocol, cfg PoolConfig, dial Dialer) *Pool {
	pool := NewPool(resourceID, protocol, cfg, dial)

	m.mu.Lock()
	previous := m.pools[resourceID]
	m.pools[resourceID] = pool
	m.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			slog.Warn("closing replaced pool", "resource_id", resourceID, "error", err)
		}
	}

	return pool
}

func (m *Manager) Get(resourceID string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool, ok := m.pools[resourceID]
	return pool, ok
}

func (m *Manager) Remove(resourceID string) error {
	m.mu.Lock()
	pool, ok := m.pools[resourceID]
	delete(m.pools, resourceID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return pool.Close()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = map[string]*Pool{}
	m.mu.Unlock()

	var errs []error
	for _, pool := range pools {
		if err := pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Stats() []PoolStats {
	m.mu.RLock()
	out := make([]PoolStats, 0, len(m.pools))
	for _, pool := range m.pools {
		out = append(out, pool.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}
