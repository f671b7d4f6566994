package guard

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	expires time.Time
}

// MemoryTracker keeps counters in process. Suitable for a single instance.
type MemoryTracker struct {
	mu       sync.Mutex
	counters map[string]*window
	locks    map[string]time.Time
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryTracker creates a tracker and starts a janitor that drops expired
// entries every cleanupEvery. Call Close to stop it.
func NewMemoryTracker(cleanupEvery time.Duration) *MemoryTracker {
	m := &MemoryTracker{
		counters: make(map[string]*window),
		locks:    make(map[string]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if cleanupEvery > 0 {
		go m.cleanup(cleanupEvery)
	}
	return m
}

// SetClock replaces the time source. Tests only.
func (m *MemoryTracker) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryTracker) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// cleanup removes stale entries periodically
func (m *MemoryTracker) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for k, w := range m.counters {
				if !now.Before(w.expires) {
					delete(m.counters, k)
				}
			}
			for k, until := range m.locks {
				if !now.Before(until) {
					delete(m.locks, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *MemoryTracker) Increment(_ context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.counters[key]
	if !ok || !now.Before(w.expires) {
		w = &window{expires: now.Add(d)}
		m.counters[key] = w
	}
	w.count++
	return w.count, w.expires.Sub(now), nil
}

func (m *MemoryTracker) Count(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.counters[key]
	if !ok || !m.now().Before(w.expires) {
		return 0, nil
	}
	return w.count, nil
}

func (m *MemoryTracker) Lock(_ context.Context, key string, d time.Duration) error {
	m.mu.Lock()
	m.locks[key] = m.now().Add(d)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) LockedFor(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.locks[key]
	if !ok {
		return 0, nil
	}
	left := until.Sub(m.now())
	if left <= 0 {
		delete(m.locks, key)
		return 0, nil
	}
	return left, nil
}

func (m *MemoryTracker) Reset(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.counters, k)
		delete(m.locks, k)
	}
	m.mu.Unlock()
	return nil
}
