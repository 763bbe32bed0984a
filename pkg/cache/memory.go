package cache

import (
	"context"
	"sync"
	"time"
)

// defaultSweepInterval is how often the janitor removes expired entries.
// Expired entries are also rejected lazily on Get, so the sweep only
// bounds memory, it does not affect correctness.
const defaultSweepInterval = 5 * time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache guarded by a single RWMutex. The
// expiry sweep runs on its own timer and operates on a snapshot of the
// expired keys so it never holds the write lock across the whole scan.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   func() time.Time
	stop    chan struct{}
	stopped sync.Once
}

// NewMemory creates a memory cache and starts its expiry sweep.
func NewMemory() *Memory {
	return NewMemoryWithSweep(defaultSweepInterval)
}

// NewMemoryWithSweep creates a memory cache with a custom sweep interval.
func NewMemoryWithSweep(interval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
		stop:    make(chan struct{}),
	}
	go m.sweepLoop(interval)
	return m
}

// WithClock overrides the clock for deterministic testing.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

// Get returns the cached value if present and unexpired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.clock().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.clock().Add(ttl)}
	m.mu.Unlock()
}

// Delete removes a key.
func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the expiry sweep.
func (m *Memory) Close() error {
	m.stopped.Do(func() { close(m.stop) })
	return nil
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := m.clock()

	m.mu.RLock()
	var expired []string
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, k)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}
	m.mu.Lock()
	for _, k := range expired {
		if e, ok := m.entries[k]; ok && now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}
