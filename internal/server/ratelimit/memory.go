package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

const defaultIdleTTL = 10 * time.Minute

type counterKey struct {
	route  Route
	client string
}

type counter struct {
	mu       sync.Mutex
	window   int64
	count    int
	lastSeen time.Time
}

// MemoryLimiter counts requests per (route, client) in fixed windows
// aligned the same way as RedisLimiter, so at most Limit requests are
// admitted in any one window. Counters idle longer than the idle TTL are
// dropped.
type MemoryLimiter struct {
	policies Policies
	clock    timex.Clock
	idleTTL  time.Duration

	mu        sync.RWMutex
	counters  map[counterKey]*counter
	lastSweep time.Time
}

func NewMemoryLimiter(policies Policies, clock timex.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		policies:  policies,
		clock:     clock,
		idleTTL:   defaultIdleTTL,
		counters:  make(map[counterKey]*counter),
		lastSweep: clock.Now(),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, route Route, client string) (bool, error) {
	p, ok := m.policies[route]
	if !ok {
		return true, nil
	}

	now := m.clock.Now()
	window := windowIndex(now, p.Window)
	c := m.counter(counterKey{route: route, client: client})

	c.mu.Lock()
	if c.window != window {
		c.window = window
		c.count = 0
	}
	c.count++
	c.lastSeen = now
	allowed := c.count <= p.Limit
	c.mu.Unlock()

	m.maybeSweep(now)
	return allowed, nil
}

func windowIndex(now time.Time, window time.Duration) int64 {
	size := window.Milliseconds()
	if size <= 0 {
		size = 1
	}
	return now.UnixMilli() / size
}

func (m *MemoryLimiter) counter(k counterKey) *counter {
	m.mu.RLock()
	c, exists := m.counters[k]
	m.mu.RUnlock()
	if exists {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, exists = m.counters[k]; !exists {
		c = &counter{window: -1}
		m.counters[k] = c
	}
	return c
}

func (m *MemoryLimiter) maybeSweep(now time.Time) {
	m.mu.RLock()
	due := now.Sub(m.lastSweep) >= m.idleTTL
	m.mu.RUnlock()
	if due {
		m.Sweep(now)
	}
}

// Sweep drops counters not used within the idle TTL before now.
func (m *MemoryLimiter) Sweep(now time.Time) int {
	cutoff := now.Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, c := range m.counters {
		c.mu.Lock()
		idle := c.lastSeen.Before(cutoff)
		c.mu.Unlock()
		if idle {
			delete(m.counters, k)
			removed++
		}
	}
	m.lastSweep = now
	return removed
}

func (m *MemoryLimiter) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.counters)
}
