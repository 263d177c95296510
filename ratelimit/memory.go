package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// Memory is a fixed-window counter per key, local to this process. The
// number of tracked keys is capped; past the cap the keys whose windows end
// soonest are dropped first.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	maxKeys int
	entries map[string]*bucket
	now     func() time.Time
}

func NewMemory(limit int, window time.Duration, maxKeys int) *Memory {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &Memory{
		limit:   limit,
		window:  window,
		maxKeys: maxKeys,
		entries: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (m *Memory) Check(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.entries[key]
	if !ok || !now.Before(w.resetAt) {
		w = &bucket{resetAt: now.Add(m.window)}
		m.entries[key] = w
		if len(m.entries) > m.maxKeys {
			m.cleanupLocked(now)
			m.evictLocked(key)
		}
	}

	w.count++
	res := Result{Limit: m.limit, Reset: w.resetAt}
	if w.count > m.limit {
		w.count = m.limit + 1
		return res, nil
	}
	res.Allowed = true
	res.Remaining = m.limit - w.count
	return res, nil
}

// Cleanup drops every key whose window has ended.
func (m *Memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked(m.now())
}

// Run calls Cleanup every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) cleanupLocked(now time.Time) {
	for k, w := range m.entries {
		if !now.Before(w.resetAt) {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) evictLocked(keep string) {
	for len(m.entries) > m.maxKeys {
		var victim string
		var soonest time.Time
		for k, w := range m.entries {
			if k == keep {
				continue
			}
			if victim == "" || w.resetAt.Before(soonest) {
				victim, soonest = k, w.resetAt
			}
		}
		if victim == "" {
			return
		}
		delete(m.entries, victim)
	}
}
